package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/meditone-go/internal/category"
)

func categoriesCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List the categories of the configured set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			set, err := cfg.CategorySet()
			if err != nil {
				return err
			}

			if asYAML {
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(set)
			}

			fmt.Printf("set %s (built-in: %s)\n", set.Name, strings.Join(category.Variants(), ", "))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBEAT HZ\tINTRO\tAMBIENT")
			for _, c := range set.All() {
				beat := "-"
				if !c.Ambient {
					beat = fmt.Sprintf("%.1f", c.BeatHz)
				}
				intro := c.Intro
				if intro == "" {
					intro = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", c.Name, beat, intro, c.Ambient)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the set as yaml")

	return cmd
}
