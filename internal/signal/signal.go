// Package signal defines the typed signals the scoring pipeline consumes.
//
// Provider payloads arrive as tagged envelopes (one variant per provider
// kind) and are converted here into the fixed RawSignal shape. Nothing
// downstream of this package inspects provider-specific structure.
package signal

import (
	"fmt"
	"strings"
)

// Category is one behavioral dimension of token risk.
type Category string

const (
	MarketStructure  Category = "market_structure"
	ContractSafety   Category = "contract_safety"
	Governance       Category = "governance"
	Regulatory       Category = "regulatory"
	SocialReputation Category = "social_reputation"
)

// Categories returns all categories in canonical order.
func Categories() []Category {
	return []Category{MarketStructure, ContractSafety, Governance, Regulatory, SocialReputation}
}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	switch c {
	case MarketStructure, ContractSafety, Governance, Regulatory, SocialReputation:
		return true
	}
	return false
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Kind is the value type a signal carries.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindBoolean     Kind = "boolean"
	KindCategorical Kind = "categorical"
)

// Status records how the fetch behind a signal ended.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// RawSignal is one observation from one source for one category.
// A signal with a non-ok Status carries no value; absence is a valid state.
type RawSignal struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Source   string   `json:"source"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Number   float64  `json:"number,omitempty"`
	Bool     bool     `json:"bool,omitempty"`
	Label    string   `json:"label,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Status   Status   `json:"status"`
}

// OK reports whether the signal carries a usable value.
func (s RawSignal) OK() bool {
	return s.Status == StatusOK
}

// Numeric builds an ok numeric signal.
func Numeric(source, name string, v float64) RawSignal {
	return build(source, name, KindNumeric, func(s *RawSignal) { s.Number = v })
}

// Boolean builds an ok boolean signal.
func Boolean(source, name string, v bool) RawSignal {
	return build(source, name, KindBoolean, func(s *RawSignal) { s.Bool = v })
}

// Categorical builds an ok categorical signal.
func Categorical(source, name, label string) RawSignal {
	return build(source, name, KindCategorical, func(s *RawSignal) { s.Label = strings.ToLower(strings.TrimSpace(label)) })
}

// Absent builds a signal for a fetch that ended with the given non-ok status.
func Absent(source, name string, status Status) RawSignal {
	def, _ := Lookup(name)
	return RawSignal{
		ID:       source + "." + name,
		Category: def.Category,
		Source:   source,
		Name:     name,
		Kind:     def.Kind,
		Unit:     def.Unit,
		Status:   status,
	}
}

func build(source, name string, kind Kind, set func(*RawSignal)) RawSignal {
	def, _ := Lookup(name)
	s := RawSignal{
		ID:       source + "." + name,
		Category: def.Category,
		Source:   source,
		Name:     name,
		Kind:     kind,
		Unit:     def.Unit,
		Status:   StatusOK,
	}
	set(&s)
	return s
}

// Validate checks the structural shape of a signal received from outside
// the extractor (for example over the HTTP API).
func (s RawSignal) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("signal name is required")
	}
	if s.Source == "" {
		return fmt.Errorf("signal %q: source is required", s.Name)
	}
	if !s.Category.Valid() {
		return fmt.Errorf("signal %q: unknown category %q", s.Name, s.Category)
	}
	switch s.Status {
	case StatusOK, StatusFailed, StatusTimeout:
	default:
		return fmt.Errorf("signal %q: unknown status %q", s.Name, s.Status)
	}
	switch s.Kind {
	case KindNumeric, KindBoolean, KindCategorical:
	default:
		return fmt.Errorf("signal %q: unknown kind %q", s.Name, s.Kind)
	}
	if def, ok := Lookup(s.Name); ok {
		if s.Category != def.Category {
			return fmt.Errorf("signal %q: category %q, want %q", s.Name, s.Category, def.Category)
		}
		if s.Kind != def.Kind {
			return fmt.Errorf("signal %q: kind %q, want %q", s.Name, s.Kind, def.Kind)
		}
	}
	return nil
}

// Canonical returns s with its label trimmed and lowercased, the form the
// normalizer and the red-flag rules both compare against.
func (s RawSignal) Canonical() RawSignal {
	if s.Label != "" {
		s.Label = strings.ToLower(strings.TrimSpace(s.Label))
	}
	return s
}

// ByCategory groups signals by category. Every category gets an entry,
// possibly empty.
func ByCategory(signals []RawSignal) map[Category][]RawSignal {
	out := make(map[Category][]RawSignal, 5)
	for _, c := range Categories() {
		out[c] = nil
	}
	for _, s := range signals {
		out[s.Category] = append(out[s.Category], s)
	}
	return out
}

// Index holds the ok signals keyed by name. When several sources report the
// same name, all values are kept in input order.
type Index map[string][]RawSignal

// NewIndex builds an Index over the ok signals.
func NewIndex(signals []RawSignal) Index {
	idx := make(Index)
	for _, s := range signals {
		if !s.OK() {
			continue
		}
		idx[s.Name] = append(idx[s.Name], s)
	}
	return idx
}

// Number returns the highest numeric value reported under name.
func (idx Index) Number(name string) (float64, bool) {
	vals := idx[name]
	found := false
	var best float64
	for _, s := range vals {
		if s.Kind != KindNumeric {
			continue
		}
		if !found || s.Number > best {
			best = s.Number
		}
		found = true
	}
	return best, found
}

// MinNumber returns the lowest numeric value reported under name.
func (idx Index) MinNumber(name string) (float64, bool) {
	vals := idx[name]
	found := false
	var best float64
	for _, s := range vals {
		if s.Kind != KindNumeric {
			continue
		}
		if !found || s.Number < best {
			best = s.Number
		}
		found = true
	}
	return best, found
}

// Bool returns true if any source reported name as true.
func (idx Index) Bool(name string) (value bool, ok bool) {
	for _, s := range idx[name] {
		if s.Kind != KindBoolean {
			continue
		}
		ok = true
		if s.Bool {
			return true, true
		}
	}
	return false, ok
}

// Labels returns every categorical label reported under name.
func (idx Index) Labels(name string) []string {
	var out []string
	for _, s := range idx[name] {
		if s.Kind == KindCategorical {
			out = append(out, s.Label)
		}
	}
	return out
}
