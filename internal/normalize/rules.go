package normalize

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/tokenrisk/internal/signal"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// ErrInvalidRules is returned when a rule set fails validation.
var ErrInvalidRules = errors.New("invalid normalization rules")

// Combine selects how per-signal risks fold into one category value.
type Combine string

const (
	// CombineWeightedMean averages signal risks by spec weight.
	CombineWeightedMean Combine = "weighted_mean"
	// CombineWorst lets the riskiest available signal decide.
	CombineWorst Combine = "worst"
	// CombineBlend mixes worst and weighted mean by WorstShare.
	CombineBlend Combine = "blend"
)

// Scale selects the numeric mapping between Min and Max.
type Scale string

const (
	ScaleLinear Scale = "linear"
	ScaleLog10  Scale = "log10"
)

// SignalSpec maps one signal name to a 0-100 risk value.
type SignalSpec struct {
	Name   string      `yaml:"name"`
	Kind   signal.Kind `yaml:"kind,omitempty"`
	Weight float64     `yaml:"weight,omitempty"`

	// numeric
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
	Scale  Scale    `yaml:"scale,omitempty"`
	Invert bool     `yaml:"invert,omitempty"`
	Abs    bool     `yaml:"abs,omitempty"`

	// boolean
	TrueRisk  *float64 `yaml:"true_risk,omitempty"`
	FalseRisk *float64 `yaml:"false_risk,omitempty"`

	// categorical
	Labels      map[string]float64 `yaml:"labels,omitempty"`
	UnknownRisk *float64           `yaml:"unknown_risk,omitempty"`
}

// CategoryRule is the combination rule for one category.
type CategoryRule struct {
	Combine      Combine      `yaml:"combine"`
	WorstShare   float64      `yaml:"worst_share,omitempty"`
	DefaultScore float64      `yaml:"default_score"`
	Signals      []SignalSpec `yaml:"signals"`

	// Ignore lists signal names that belong to the category but only feed
	// red-flag rules. They are neither scored nor noted as unmapped.
	Ignore []string `yaml:"ignore,omitempty"`
}

// Rules holds the combination rule for every category.
type Rules struct {
	Categories map[signal.Category]CategoryRule `yaml:"categories"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() (Rules, error) {
	return ParseRules(defaultRulesYAML)
}

// LoadRules reads a rule set from a YAML file.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read normalization rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("failed to parse normalization rules: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// Validate fills defaults from the signal catalog and checks every rule.
// It mutates the receiver's specs in place, so call it before sharing.
func (r *Rules) Validate() error {
	if r.Categories == nil {
		return fmt.Errorf("%w: no categories defined", ErrInvalidRules)
	}
	for c := range r.Categories {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidRules, c)
		}
	}
	for _, c := range signal.Categories() {
		rule, ok := r.Categories[c]
		if !ok {
			return fmt.Errorf("%w: category %s has no rule", ErrInvalidRules, c)
		}
		if err := rule.validate(c); err != nil {
			return err
		}
		r.Categories[c] = rule
	}
	return nil
}

func (cr *CategoryRule) validate(c signal.Category) error {
	switch cr.Combine {
	case "":
		cr.Combine = CombineWeightedMean
	case CombineWeightedMean, CombineWorst:
	case CombineBlend:
		if cr.WorstShare < 0 || cr.WorstShare > 1 {
			return fmt.Errorf("%w: %s: worst_share must be in [0,1]", ErrInvalidRules, c)
		}
	default:
		return fmt.Errorf("%w: %s: unknown combine mode %q", ErrInvalidRules, c, cr.Combine)
	}
	if !inRiskRange(cr.DefaultScore) {
		return fmt.Errorf("%w: %s: default_score must be in [0,100]", ErrInvalidRules, c)
	}
	if len(cr.Signals) == 0 {
		return fmt.Errorf("%w: %s: at least one signal spec is required", ErrInvalidRules, c)
	}

	seen := make(map[string]bool, len(cr.Signals))
	for i := range cr.Signals {
		spec := &cr.Signals[i]
		if spec.Name == "" {
			return fmt.Errorf("%w: %s: signals[%d]: name is required", ErrInvalidRules, c, i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("%w: %s: duplicate signal spec %q", ErrInvalidRules, c, spec.Name)
		}
		seen[spec.Name] = true
		if err := spec.validate(); err != nil {
			return fmt.Errorf("%w: %s: %s: %v", ErrInvalidRules, c, spec.Name, err)
		}
	}
	return nil
}

func (s *SignalSpec) validate() error {
	if s.Kind == "" {
		if def, ok := signal.Lookup(s.Name); ok {
			s.Kind = def.Kind
		}
	}
	if s.Weight == 0 {
		s.Weight = 1
	}
	if s.Weight < 0 {
		return errors.New("weight must be positive")
	}

	switch s.Kind {
	case signal.KindNumeric:
		if s.Min == nil || s.Max == nil {
			return errors.New("numeric spec needs min and max")
		}
		if *s.Min >= *s.Max {
			return errors.New("min must be below max")
		}
		switch s.Scale {
		case "":
			s.Scale = ScaleLinear
		case ScaleLinear:
		case ScaleLog10:
			if *s.Min <= 0 {
				return errors.New("log10 scale needs min > 0")
			}
		default:
			return fmt.Errorf("unknown scale %q", s.Scale)
		}
	case signal.KindBoolean:
		if s.TrueRisk == nil || s.FalseRisk == nil {
			return errors.New("boolean spec needs true_risk and false_risk")
		}
		if !inRiskRange(*s.TrueRisk) || !inRiskRange(*s.FalseRisk) {
			return errors.New("boolean risks must be in [0,100]")
		}
	case signal.KindCategorical:
		if len(s.Labels) == 0 {
			return errors.New("categorical spec needs labels")
		}
		for label, v := range s.Labels {
			if !inRiskRange(v) {
				return fmt.Errorf("label %q risk must be in [0,100]", label)
			}
		}
		if s.UnknownRisk == nil {
			return errors.New("categorical spec needs unknown_risk")
		}
		if !inRiskRange(*s.UnknownRisk) {
			return errors.New("unknown_risk must be in [0,100]")
		}
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	return nil
}

// SignalNames returns the signal names configured for a category, sorted.
func (r Rules) SignalNames(c signal.Category) []string {
	rule := r.Categories[c]
	names := make([]string, 0, len(rule.Signals))
	for _, s := range rule.Signals {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func inRiskRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}
