package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/score"
)

// Summary counts batch results.
type Summary struct {
	Total     int                   `json:"total"`
	Finalized int                   `json:"finalized"`
	Failed    int                   `json:"failed"`
	Tiers     map[score.Tier]int    `json:"tiers"`
	Reasons   map[assess.Reason]int `json:"reasons,omitempty"`
	Flags     map[string]int        `json:"flags,omitempty"`

	// LowConfidence counts finalized outcomes with completeness below 1.
	LowConfidence int `json:"lowConfidence"`
}

// Summarize tallies outcomes.
func Summarize(outcomes []assess.Outcome) Summary {
	s := Summary{
		Total:   len(outcomes),
		Tiers:   make(map[score.Tier]int),
		Reasons: make(map[assess.Reason]int),
		Flags:   make(map[string]int),
	}
	for _, o := range outcomes {
		if o.Assessment == nil {
			s.Failed++
			if o.Failure != nil {
				s.Reasons[o.Failure.Reason]++
			}
			continue
		}
		s.Finalized++
		s.Tiers[o.Assessment.Tier]++
		if o.Assessment.Completeness < 1 {
			s.LowConfidence++
		}
		for _, f := range o.Assessment.Flags {
			s.Flags[f.ID]++
		}
	}
	return s
}

// WriteText writes a short human-readable summary.
func (s Summary) WriteText(w io.Writer) error {
	lines := []string{
		fmt.Sprintf("Total tokens processed: %d", s.Total),
		fmt.Sprintf("Finalized: %d", s.Finalized),
		fmt.Sprintf("Failed: %d", s.Failed),
		fmt.Sprintf("Incomplete data: %d", s.LowConfidence),
	}
	for _, t := range []score.Tier{score.TierLow, score.TierMedium, score.TierHigh, score.TierCritical} {
		lines = append(lines, fmt.Sprintf("  %s: %d", t, s.Tiers[t]))
	}
	for _, r := range sortedKeys(s.Reasons) {
		lines = append(lines, fmt.Sprintf("  failed %s: %d", r, s.Reasons[r]))
	}
	for _, f := range sortedKeys(s.Flags) {
		lines = append(lines, fmt.Sprintf("  flag %s: %d", f, s.Flags[f]))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
