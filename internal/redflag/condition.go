package redflag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mbd888/tokenrisk/internal/signal"
)

// Truth is a three-valued logic result. Unknown means the data needed to
// decide was not available.
type Truth int

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// ConditionType names a predicate form.
type ConditionType string

const (
	SignalTrue  ConditionType = "signal_true"
	SignalFalse ConditionType = "signal_false"
	SignalAbove ConditionType = "signal_above"
	SignalBelow ConditionType = "signal_below"
	SignalIn    ConditionType = "signal_in"
	SignalNotIn ConditionType = "signal_not_in"
	ScoreAbove  ConditionType = "score_above"
	All         ConditionType = "all"
	Any         ConditionType = "any"
)

// Condition is a predicate over an Input, decoded from rule configuration.
type Condition struct {
	Type     ConditionType   `yaml:"type" json:"type"`
	Signal   string          `yaml:"signal,omitempty" json:"signal,omitempty"`
	Category signal.Category `yaml:"category,omitempty" json:"category,omitempty"`

	// Threshold applies to chains without an entry in ChainThresholds.
	Threshold       *float64           `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	ChainThresholds map[string]float64 `yaml:"chain_thresholds,omitempty" json:"chainThresholds,omitempty"`

	Values     []string    `yaml:"values,omitempty" json:"values,omitempty"`
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Validate checks that the condition is well formed.
func (c Condition) Validate() error {
	switch c.Type {
	case SignalTrue, SignalFalse:
		return c.requireSignal(signal.KindBoolean)
	case SignalAbove, SignalBelow:
		if err := c.requireSignal(signal.KindNumeric); err != nil {
			return err
		}
		if c.Threshold == nil && len(c.ChainThresholds) == 0 {
			return fmt.Errorf("%s %s: threshold or chain_thresholds required", c.Type, c.Signal)
		}
		return nil
	case SignalIn, SignalNotIn:
		if err := c.requireSignal(signal.KindCategorical); err != nil {
			return err
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("%s %s: values required", c.Type, c.Signal)
		}
		return nil
	case ScoreAbove:
		if !c.Category.Valid() {
			return fmt.Errorf("score_above: unknown category %q", c.Category)
		}
		if c.Threshold == nil {
			return errors.New("score_above: threshold required")
		}
		return nil
	case All, Any:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s: at least one nested condition required", c.Type)
		}
		for i, sub := range c.Conditions {
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", c.Type, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
}

func (c Condition) requireSignal(kind signal.Kind) error {
	if c.Signal == "" {
		return fmt.Errorf("%s: signal required", c.Type)
	}
	def, ok := signal.Lookup(c.Signal)
	if !ok {
		return fmt.Errorf("%s: unknown signal %q", c.Type, c.Signal)
	}
	if def.Kind != kind {
		return fmt.Errorf("%s: signal %s is %s, want %s", c.Type, c.Signal, def.Kind, kind)
	}
	return nil
}

// threshold resolves the threshold for a chain.
func (c Condition) threshold(chain string) (float64, bool) {
	if v, ok := c.ChainThresholds[strings.ToLower(chain)]; ok {
		return v, true
	}
	if c.Threshold != nil {
		return *c.Threshold, true
	}
	return 0, false
}

// Eval evaluates the condition. When the result is Unknown, missing names
// the signals or categories that were not available.
func (c Condition) Eval(in Input) (result Truth, missing []string) {
	switch c.Type {
	case SignalTrue, SignalFalse:
		v, ok := in.Signals.Bool(c.Signal)
		if !ok {
			return Unknown, []string{c.Signal}
		}
		return truth(v == (c.Type == SignalTrue)), nil

	case SignalAbove:
		limit, ok := c.threshold(in.Chain)
		if !ok {
			return Unknown, []string{c.Signal + "@" + in.Chain}
		}
		v, ok := in.Signals.Number(c.Signal)
		if !ok {
			return Unknown, []string{c.Signal}
		}
		return truth(v > limit), nil

	case SignalBelow:
		limit, ok := c.threshold(in.Chain)
		if !ok {
			return Unknown, []string{c.Signal + "@" + in.Chain}
		}
		v, ok := in.Signals.MinNumber(c.Signal)
		if !ok {
			return Unknown, []string{c.Signal}
		}
		return truth(v < limit), nil

	case SignalIn, SignalNotIn:
		labels := in.Signals.Labels(c.Signal)
		if len(labels) == 0 {
			return Unknown, []string{c.Signal}
		}
		hit := false
		for _, l := range labels {
			if contains(c.Values, l) {
				hit = true
				break
			}
		}
		if c.Type == SignalNotIn {
			// every reporting source must place the label outside the set
			return truth(!hit), nil
		}
		return truth(hit), nil

	case ScoreAbove:
		v, ok := in.Scores[c.Category]
		if !ok {
			return Unknown, []string{string(c.Category)}
		}
		return truth(v > *c.Threshold), nil

	case All:
		result = True
		for _, sub := range c.Conditions {
			r, m := sub.Eval(in)
			switch r {
			case False:
				return False, nil
			case Unknown:
				result = Unknown
				missing = append(missing, m...)
			}
		}
		return result, missing

	case Any:
		result = False
		for _, sub := range c.Conditions {
			r, m := sub.Eval(in)
			switch r {
			case True:
				return True, nil
			case Unknown:
				result = Unknown
				missing = append(missing, m...)
			}
		}
		return result, missing
	}
	return Unknown, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
