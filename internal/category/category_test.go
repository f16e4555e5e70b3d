package category

import (
	"math"
	"strings"
	"testing"
)

func TestBandIsMonotonicAndHitsExtremes(t *testing.T) {
	for _, variant := range Variants() {
		t.Run(variant, func(t *testing.T) {
			s, err := Builtin(variant)
			if err != nil {
				t.Fatalf("builtin %s: %v", variant, err)
			}
			index := func(c Category) int {
				for i, b := range s.Bands {
					if b.Name == c.Name {
						return i
					}
				}
				t.Fatalf("band %q not in set", c.Name)
				return -1
			}
			if got := s.Band(0); got.Name != s.Bands[0].Name {
				t.Fatalf("band(0) = %s, want %s", got.Name, s.Bands[0].Name)
			}
			if got := s.Band(1); got.Name != s.Bands[len(s.Bands)-1].Name {
				t.Fatalf("band(1) = %s, want %s", got.Name, s.Bands[len(s.Bands)-1].Name)
			}
			prev := 0
			for i := 0; i <= 1000; i++ {
				idx := index(s.Band(float64(i) / 1000))
				if idx < prev {
					t.Fatalf("banding not monotonic at %v: %d < %d", float64(i)/1000, idx, prev)
				}
				prev = idx
			}
		})
	}
}

func TestBandClampsOutOfRange(t *testing.T) {
	s := Default()
	if got := s.Band(-3); got.Name != "rest" {
		t.Fatalf("band(-3) = %s, want rest", got.Name)
	}
	if got := s.Band(7); got.Name != "uplift" {
		t.Fatalf("band(7) = %s, want uplift", got.Name)
	}
	if got := s.Band(math.NaN()); got.Name != "rest" {
		t.Fatalf("band(NaN) = %s, want rest", got.Name)
	}
}

func TestClassicBands(t *testing.T) {
	s := Default()
	for _, tc := range []struct {
		score float64
		want  string
	}{
		{0.1, "rest"},
		{0.25, "release"},
		{0.42, "calm"},
		{0.65, "balance"},
		{0.99, "uplift"},
	} {
		if got := s.Band(tc.score); got.Name != tc.want {
			t.Errorf("band(%v) = %s, want %s", tc.score, got.Name, tc.want)
		}
	}
	if got := s.BandScore(Score{}); got.Name != "calm" {
		t.Errorf("band of missing score = %s, want calm", got.Name)
	}
}

func TestLookupIncludesExtras(t *testing.T) {
	s := Default()
	c, ok := s.Lookup("nature")
	if !ok || !c.Ambient {
		t.Fatalf("nature lookup = %+v %v, want ambient category", c, ok)
	}
	if _, ok := s.Lookup(Recommended); ok {
		t.Fatalf("recommended must not be a concrete category")
	}
}

func TestParseRejectsInvalidSets(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{"no bands", "name: x\n", "no bands"},
		{"reserved", "bands:\n  - name: recommended\n", "reserved"},
		{"duplicate", "bands:\n  - name: a\n  - name: a\n", "duplicate"},
		{"ambient without recording", "bands:\n  - name: a\nextra:\n  - name: b\n    ambient: true\n", "ambient"},
		{"bad yaml", "bands: [", "decode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestVariantsDisagreeOnTuning(t *testing.T) {
	classic, _ := Builtin("classic")
	journal, _ := Builtin("journal")
	if classic.Tuning.BaseAmplitude == journal.Tuning.BaseAmplitude {
		t.Fatalf("expected variants to carry different base amplitudes")
	}
	if journal.Tuning.HarmonicRatio != 2.0 {
		t.Fatalf("journal harmonic ratio = %v, want 2.0", journal.Tuning.HarmonicRatio)
	}
	if _, err := Builtin("nope"); err == nil {
		t.Fatalf("expected error for unknown variant")
	}
}
