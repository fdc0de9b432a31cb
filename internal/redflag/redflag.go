// Package redflag evaluates rule-based risk boosts.
//
// Each Rule is an independent predicate over a uniform Input. A rule never
// sees which other rules fired, so the set of fired flags does not depend on
// evaluation order. Rules whose data is missing are skipped rather than
// treated as fired or as errors.
package redflag

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mbd888/tokenrisk/internal/normalize"
	"github.com/mbd888/tokenrisk/internal/signal"
)

// Rule is one red-flag check.
type Rule struct {
	ID          string    `yaml:"id" json:"id"`
	Description string    `yaml:"description" json:"description"`
	Boost       float64   `yaml:"boost" json:"boost"`
	When        Condition `yaml:"when" json:"when"`
	// ExemptWellKnown makes the rule evaluate false for tokens on the
	// profile's well-known list.
	ExemptWellKnown bool `yaml:"exempt_well_known,omitempty" json:"exemptWellKnown,omitempty"`
}

// Validate checks the rule's id, boost and condition.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule id is required")
	}
	if r.Boost < 0 || math.IsNaN(r.Boost) || math.IsInf(r.Boost, 0) {
		return fmt.Errorf("rule %s: boost must be a finite value >= 0", r.ID)
	}
	if err := r.When.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// Flag is a fired rule.
type Flag struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Boost       float64 `json:"boost"`
}

// Skip records a rule that could not be evaluated.
type Skip struct {
	ID      string   `json:"id"`
	Missing []string `json:"missing"`
}

// Result is the outcome of evaluating a rule set.
type Result struct {
	Flags    []Flag  `json:"flags"`
	Skipped  []Skip  `json:"skipped"`
	RawTotal float64 `json:"rawTotal"`
	Total    float64 `json:"total"`
	MaxBoost float64 `json:"maxBoost"`
}

// Capped reports whether the boost cap reduced the total.
func (r Result) Capped() bool {
	return r.Total < r.RawTotal
}

// Input is the uniform data every rule evaluates against.
type Input struct {
	Chain   string
	Signals signal.Index
	// Scores holds the value of every category that had data. Categories
	// scored from their default are left out so score rules stay unknown.
	Scores map[signal.Category]float64
	// WellKnown is set for established tokens the profile allowlists.
	WellKnown bool
}

// NewInput builds an Input from signals and category scores.
func NewInput(chain string, signals []signal.RawSignal, scores []normalize.CategoryScore) Input {
	in := Input{
		Chain:   strings.ToLower(chain),
		Signals: signal.NewIndex(signals),
		Scores:  make(map[signal.Category]float64, len(scores)),
	}
	for _, cs := range scores {
		if cs.Available {
			in.Scores[cs.Category] = cs.Value
		}
	}
	return in
}

// Evaluate runs every rule against in. The total boost is the sum of the
// fired flags' boosts, capped at maxBoost.
func Evaluate(rules []Rule, in Input, maxBoost float64) Result {
	res := Result{Flags: []Flag{}, Skipped: []Skip{}, MaxBoost: maxBoost}
	for _, r := range rules {
		if r.ExemptWellKnown && in.WellKnown {
			continue
		}
		t, missing := r.When.Eval(in)
		switch t {
		case True:
			res.Flags = append(res.Flags, Flag{ID: r.ID, Description: r.Description, Boost: r.Boost})
			res.RawTotal += r.Boost
		case Unknown:
			sort.Strings(missing)
			res.Skipped = append(res.Skipped, Skip{ID: r.ID, Missing: dedupe(missing)})
		}
	}
	res.Total = math.Min(res.RawTotal, math.Max(maxBoost, 0))
	return res
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, s := range sorted {
		if i > 0 && sorted[i-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}
