package score

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tier is a discrete risk band derived from the final score.
type Tier string

const (
	TierLow      Tier = "Low"
	TierMedium   Tier = "Medium"
	TierHigh     Tier = "High"
	TierCritical Tier = "Critical"
)

// Rank orders the standard tiers from 1 (Low) to 4 (Critical). Tier names
// introduced by custom bands rank 0.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	case TierCritical:
		return 4
	default:
		return 0
	}
}

// ParseTier resolves a standard tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	for _, t := range []Tier{TierLow, TierMedium, TierHigh, TierCritical} {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q (want Low, Medium, High or Critical)", s)
}

// Band is a tier and the lowest score that falls into it.
type Band struct {
	Name Tier    `yaml:"name" json:"name"`
	Min  float64 `yaml:"min" json:"min"`
}

// Bands are ordered by Min, starting at 0.
type Bands []Band

// DefaultBands returns Low/Medium/High/Critical at 0/34/67/80.
func DefaultBands() Bands {
	return Bands{
		{Name: TierLow, Min: 0},
		{Name: TierMedium, Min: 34},
		{Name: TierHigh, Min: 67},
		{Name: TierCritical, Min: 80},
	}
}

// Validate checks that bands start at 0, strictly increase, stay within
// [0,100] and have unique non-empty names.
func (b Bands) Validate() error {
	if len(b) == 0 {
		return errors.New("at least one band is required")
	}
	if b[0].Min != 0 {
		return fmt.Errorf("first band %q must start at 0", b[0].Name)
	}
	seen := make(map[Tier]bool, len(b))
	for i, band := range b {
		if band.Name == "" {
			return fmt.Errorf("band %d has no name", i)
		}
		if seen[band.Name] {
			return fmt.Errorf("duplicate band %q", band.Name)
		}
		seen[band.Name] = true
		if band.Min < 0 || band.Min > 100 {
			return fmt.Errorf("band %q: min must be in [0,100]", band.Name)
		}
		if i > 0 && band.Min <= b[i-1].Min {
			return fmt.Errorf("band %q: min must be above %q", band.Name, b[i-1].Name)
		}
	}
	return nil
}

// Classify returns the tier of the highest band whose Min is at most score.
func (b Bands) Classify(score float64) Tier {
	i := sort.Search(len(b), func(i int) bool { return b[i].Min > score })
	if i == 0 {
		if len(b) == 0 {
			return ""
		}
		return b[0].Name
	}
	return b[i-1].Name
}
