// Package normalize turns the raw signals of one category into a bounded
// category score with a confidence level.
//
// Combination rules are configuration data (see rules/default.yaml); adding a
// signal means adding a spec there, not a branch here. Normalization is a
// pure function of the rule set and its inputs.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/mbd888/tokenrisk/internal/signal"
)

// NoteCode classifies an annotation produced during normalization.
type NoteCode string

const (
	NoteDataUnavailable NoteCode = "data-unavailable"
	NoteClamped         NoteCode = "clamped"
	NoteSourceFailed    NoteCode = "source-failed"
	NoteUnmapped        NoteCode = "unmapped"
	NoteKindMismatch    NoteCode = "kind-mismatch"
	NoteUnknownLabel    NoteCode = "unknown-label"
)

// Note is one annotation attached to a category score.
type Note struct {
	Category signal.Category `json:"category"`
	Code     NoteCode        `json:"code"`
	Signal   string          `json:"signal,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

func (n Note) String() string {
	s := string(n.Category) + ": " + string(n.Code)
	if n.Signal != "" {
		s += " " + n.Signal
	}
	if n.Detail != "" {
		s += " (" + n.Detail + ")"
	}
	return s
}

// CategoryScore is the normalized result for one category.
type CategoryScore struct {
	Category   signal.Category `json:"category"`
	Value      float64         `json:"value"`
	Confidence float64         `json:"confidence"`
	Signals    []string        `json:"signals"`
	Available  bool            `json:"available"`
	Notes      []Note          `json:"notes,omitempty"`
}

// Normalizer applies a validated rule set. It holds no mutable state and is
// safe for concurrent use.
type Normalizer struct {
	rules Rules
}

// New validates rules and returns a Normalizer over them.
func New(rules Rules) (*Normalizer, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{rules: rules}, nil
}

// NewDefault returns a Normalizer over the built-in rule set.
func NewDefault() (*Normalizer, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return &Normalizer{rules: rules}, nil
}

// Rules returns the rule set in use.
func (n *Normalizer) Rules() Rules {
	return n.rules
}

// NormalizeAll scores every category, in canonical category order.
func (n *Normalizer) NormalizeAll(signals []signal.RawSignal) []CategoryScore {
	groups := signal.ByCategory(signals)
	out := make([]CategoryScore, 0, len(groups))
	for _, c := range signal.Categories() {
		out = append(out, n.Normalize(c, groups[c]))
	}
	return out
}

// Normalize scores one category. Signals tagged for other categories are
// ignored. With no usable signal the category gets its default score and
// zero confidence.
func (n *Normalizer) Normalize(cat signal.Category, signals []signal.RawSignal) CategoryScore {
	cs := CategoryScore{Category: cat, Signals: []string{}}
	rule, ok := n.rules.Categories[cat]
	if !ok {
		cs.Value = 100
		cs.Notes = append(cs.Notes, Note{Category: cat, Code: NoteDataUnavailable, Detail: "no rule for category"})
		return cs
	}

	specs := make(map[string]int, len(rule.Signals))
	for i, s := range rule.Signals {
		specs[s.Name] = i
	}
	ignored := make(map[string]bool, len(rule.Ignore))
	for _, name := range rule.Ignore {
		ignored[name] = true
	}

	risks := make([][]float64, len(rule.Signals))
	unmapped := make(map[string]bool)
	for _, s := range signals {
		if s.Category != cat {
			continue
		}
		i, ok := specs[s.Name]
		if !ok {
			if !ignored[s.Name] && !unmapped[s.Name] {
				unmapped[s.Name] = true
				cs.Notes = append(cs.Notes, Note{Category: cat, Code: NoteUnmapped, Signal: s.Name})
			}
			continue
		}
		if !s.OK() {
			cs.Notes = append(cs.Notes, Note{Category: cat, Code: NoteSourceFailed, Signal: s.ID, Detail: string(s.Status)})
			continue
		}
		risk, note, ok := rule.Signals[i].risk(s)
		if note != nil {
			note.Category = cat
			cs.Notes = append(cs.Notes, *note)
		}
		if !ok {
			continue
		}
		risks[i] = append(risks[i], risk)
		cs.Signals = append(cs.Signals, s.ID)
	}
	sort.Strings(cs.Signals)

	var totalWeight, availWeight, weighted, worst float64
	for i, spec := range rule.Signals {
		totalWeight += spec.Weight
		if len(risks[i]) == 0 {
			continue
		}
		r := merge(risks[i], rule.Combine == CombineWorst)
		availWeight += spec.Weight
		weighted += spec.Weight * r
		if r > worst {
			worst = r
		}
	}

	if availWeight == 0 {
		cs.Value = rule.DefaultScore
		cs.Notes = append(cs.Notes, Note{Category: cat, Code: NoteDataUnavailable, Detail: fmt.Sprintf("default score %g", rule.DefaultScore)})
		return cs
	}

	mean := weighted / availWeight
	var value float64
	switch rule.Combine {
	case CombineWorst:
		value = worst
	case CombineBlend:
		value = rule.WorstShare*worst + (1-rule.WorstShare)*mean
	default:
		value = mean
	}

	cs.Available = true
	cs.Value = clamp(round(value, 2), 0, 100)
	cs.Confidence = clamp(round(availWeight/totalWeight, 4), 0, 1)
	return cs
}

// merge folds several sources for one spec: the worst value when worst
// dominates, the mean otherwise.
func merge(vals []float64, worst bool) float64 {
	if worst {
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// risk maps a single ok signal to [0,100]. The returned note, if any,
// records a clamp or an unknown label; ok is false when the signal cannot
// be used under this spec.
func (s SignalSpec) risk(sig signal.RawSignal) (float64, *Note, bool) {
	if sig.Kind != s.Kind {
		return 0, &Note{Code: NoteKindMismatch, Signal: sig.ID, Detail: fmt.Sprintf("got %s, want %s", sig.Kind, s.Kind)}, false
	}
	switch s.Kind {
	case signal.KindBoolean:
		if sig.Bool {
			return *s.TrueRisk, nil, true
		}
		return *s.FalseRisk, nil, true
	case signal.KindCategorical:
		if v, ok := s.Labels[sig.Label]; ok {
			return v, nil, true
		}
		return *s.UnknownRisk, &Note{Code: NoteUnknownLabel, Signal: sig.ID, Detail: sig.Label}, true
	default:
		return s.numericRisk(sig)
	}
}

func (s SignalSpec) numericRisk(sig signal.RawSignal) (float64, *Note, bool) {
	v := sig.Number
	if math.IsNaN(v) {
		return 0, &Note{Code: NoteKindMismatch, Signal: sig.ID, Detail: "not a number"}, false
	}
	if s.Abs {
		v = math.Abs(v)
	}

	lo, hi := *s.Min, *s.Max
	var note *Note
	if v < lo || v > hi {
		note = &Note{Code: NoteClamped, Signal: sig.ID, Detail: fmt.Sprintf("%g outside [%g, %g]", sig.Number, lo, hi)}
		v = clamp(v, lo, hi)
	}

	var t float64
	if s.Scale == ScaleLog10 {
		t = (math.Log10(v) - math.Log10(lo)) / (math.Log10(hi) - math.Log10(lo))
	} else {
		t = (v - lo) / (hi - lo)
	}
	if s.Invert {
		t = 1 - t
	}
	return clamp(t*100, 0, 100), note, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
