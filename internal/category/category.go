package category

import (
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recommended is the meta-category resolved from a score by banding.
const Recommended = "recommended"

//go:embed sets/*.yaml
var builtinSets embed.FS

// Category is one selectable sound. Ambient categories play the set's
// ambient recording instead of a synthesized tone.
type Category struct {
	Name    string  `yaml:"name" json:"name"`
	BeatHz  float64 `yaml:"beat_hz,omitempty" json:"beatHz,omitempty"`
	Intro   string  `yaml:"intro,omitempty" json:"intro,omitempty"`
	Ambient bool    `yaml:"ambient,omitempty" json:"ambient,omitempty"`
}

// Tuning overrides tone constants for a product variant. Zero fields keep the defaults.
type Tuning struct {
	BaseCarrierHz     float64 `yaml:"base_carrier_hz,omitempty" json:"baseCarrierHz,omitempty"`
	MaxBeatHz         float64 `yaml:"max_beat_hz,omitempty" json:"maxBeatHz,omitempty"`
	HarmonicRatio     float64 `yaml:"harmonic_ratio,omitempty" json:"harmonicRatio,omitempty"`
	BaseAmplitude     float64 `yaml:"base_amplitude,omitempty" json:"baseAmplitude,omitempty"`
	HarmonicAmplitude float64 `yaml:"harmonic_amplitude,omitempty" json:"harmonicAmplitude,omitempty"`
}

// Set is a SoundCategorySet: the categories of one product variant.
// Bands are ordered from the lowest score to the highest.
type Set struct {
	Name             string     `yaml:"name" json:"name"`
	IntroDir         string     `yaml:"intro_dir" json:"introDir"`
	AmbientDir       string     `yaml:"ambient_dir" json:"ambientDir"`
	RecommendedIntro string     `yaml:"recommended_intro,omitempty" json:"recommendedIntro,omitempty"`
	AmbientRecording string     `yaml:"ambient_recording,omitempty" json:"ambientRecording,omitempty"`
	Bands            []Category `yaml:"bands" json:"bands"`
	Extra            []Category `yaml:"extra,omitempty" json:"extra,omitempty"`
	Tuning           Tuning     `yaml:"tuning,omitempty" json:"tuning"`
}

// Score is an optional normalized emotional-state score.
type Score struct {
	Value float64
	Valid bool
}

func ScoreOf(v float64) Score { return Score{Value: v, Valid: true} }

func (s Score) String() string {
	if !s.Valid {
		return "none"
	}
	return fmt.Sprintf("%.3f", s.Value)
}

// Parse decodes and validates a yaml category set.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("category: decode set: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("category: read %s: %w", path, err)
	}
	return Parse(data)
}

// Builtin returns one of the embedded product variants.
func Builtin(name string) (*Set, error) {
	data, err := builtinSets.ReadFile("sets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("category: unknown variant %q (have %s)", name, strings.Join(Variants(), ", "))
	}
	return Parse(data)
}

// Default returns the "classic" variant.
func Default() *Set {
	s, err := Builtin("classic")
	if err != nil {
		panic(err)
	}
	return s
}

// Variants lists the embedded product variants.
func Variants() []string {
	entries, _ := builtinSets.ReadDir("sets")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(out)
	return out
}

func (s *Set) Validate() error {
	if len(s.Bands) == 0 {
		return errors.New("category: set has no bands")
	}
	seen := make(map[string]bool)
	for _, c := range s.All() {
		switch {
		case c.Name == "":
			return errors.New("category: empty category name")
		case c.Name == Recommended:
			return fmt.Errorf("category: %q is reserved", Recommended)
		case seen[c.Name]:
			return fmt.Errorf("category: duplicate category %q", c.Name)
		case c.Ambient && s.AmbientRecording == "":
			return fmt.Errorf("category: %q is ambient but the set has no ambient recording", c.Name)
		case c.BeatHz < 0:
			return fmt.Errorf("category: %q has negative beat frequency", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// All returns the banded categories followed by the extras.
func (s *Set) All() []Category {
	out := make([]Category, 0, len(s.Bands)+len(s.Extra))
	out = append(out, s.Bands...)
	return append(out, s.Extra...)
}

func (s *Set) Lookup(name string) (Category, bool) {
	for _, c := range s.All() {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Band maps a score to one of the banded categories using equal-width bands
// over [0,1]. Scores outside the range are clamped; NaN counts as 0.
func (s *Set) Band(score float64) Category {
	n := len(s.Bands)
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	idx := int(score * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return s.Bands[idx]
}

// BandScore bands an optional score; a missing score picks the middle band.
func (s *Set) BandScore(sc Score) Category {
	if !sc.Valid {
		return s.Band(0.5)
	}
	return s.Band(sc.Value)
}
