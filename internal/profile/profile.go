// Package profile holds the named risk profiles: per-category weights, the
// active red-flag rules, the boost cap and the tier bands.
//
// Profiles are validated when loaded. A registry that loaded successfully
// only contains profiles whose weights cover every category exactly once and
// sum to 1, so nothing has to be checked again at score time.
package profile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/tokenrisk/internal/redflag"
	"github.com/mbd888/tokenrisk/internal/score"
	"github.com/mbd888/tokenrisk/internal/signal"
	"github.com/mbd888/tokenrisk/internal/validation"
)

// WeightTolerance is how far the weight sum may drift from 1.
const WeightTolerance = 1e-6

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrProfileInvariant = errors.New("profile invariant violated")
)

// Profile is a validated, read-only scoring configuration.
type Profile struct {
	Name          string                      `json:"name"`
	Description   string                      `json:"description"`
	Weights       map[signal.Category]float64 `json:"weights"`
	Rules         []redflag.Rule              `json:"rules"`
	MaxBoost      float64                     `json:"maxBoost"`
	MinConfidence float64                     `json:"minConfidence"`
	Bands         score.Bands                 `json:"bands"`
	// WellKnown maps a canonical chain id to canonical token addresses that
	// rules marked exempt_well_known skip.
	WellKnown map[string][]string `json:"wellKnown,omitempty"`
}

// IsWellKnown reports whether token on chain is on the profile's
// well-known list. Both are expected in canonical form.
func (p *Profile) IsWellKnown(chain, token string) bool {
	for _, t := range p.WellKnown[chain] {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// RuleIDs returns the ids of the active rules in profile order.
func (p *Profile) RuleIDs() []string {
	ids := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		ids = append(ids, r.ID)
	}
	return ids
}

// Weight returns the weight of a category.
func (p *Profile) Weight(c signal.Category) float64 {
	return p.Weights[c]
}

// Check re-verifies the weight invariants. Profiles produced by Parse
// always pass; Check guards profiles assembled by hand.
func (p *Profile) Check() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrProfileInvariant)
	}
	if len(p.Weights) != len(signal.Categories()) {
		return fmt.Errorf("%w: profile %q: want %d weights, got %d", ErrProfileInvariant, p.Name, len(signal.Categories()), len(p.Weights))
	}
	var sum float64
	for _, c := range signal.Categories() {
		w, ok := p.Weights[c]
		if !ok {
			return fmt.Errorf("%w: profile %q: missing weight for %s", ErrProfileInvariant, p.Name, c)
		}
		if w < 0 {
			return fmt.Errorf("%w: profile %q: negative weight for %s", ErrProfileInvariant, p.Name, c)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: profile %q: weights sum to %g, want 1", ErrProfileInvariant, p.Name, sum)
	}
	if p.MaxBoost < 0 {
		return fmt.Errorf("%w: profile %q: max_boost must be >= 0", ErrProfileInvariant, p.Name)
	}
	if err := p.Bands.Validate(); err != nil {
		return fmt.Errorf("%w: profile %q: bands: %v", ErrProfileInvariant, p.Name, err)
	}
	return nil
}

// document is the YAML shape of a profile file.
type document struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	Weights       map[string]float64  `yaml:"weights"`
	MaxBoost      *float64            `yaml:"max_boost"`
	MinConfidence *float64            `yaml:"min_confidence"`
	Bands         score.Bands         `yaml:"bands"`
	Rules         []ruleRef           `yaml:"rules"`
	WellKnown     map[string][]string `yaml:"well_known"`
}

// ruleRef activates a catalog rule, optionally with a different boost.
type ruleRef struct {
	ID    string   `yaml:"id"`
	Boost *float64 `yaml:"boost,omitempty"`
}

type catalogDocument struct {
	Rules []redflag.Rule `yaml:"rules"`
}

// Catalog is the set of rules profiles may activate, keyed by id.
type Catalog map[string]redflag.Rule

// ParseCatalog decodes and validates a rule catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rule catalog: %v", ErrProfileInvariant, err)
	}
	cat := make(Catalog, len(doc.Rules))
	if err := cat.add(doc.Rules); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c Catalog) add(rules []redflag.Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrProfileInvariant, err)
		}
		if _, dup := c[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule %q", ErrProfileInvariant, r.ID)
		}
		c[r.ID] = r
	}
	return nil
}

// IDs returns the catalog's rule ids, sorted.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parse decodes a profile and resolves its rules against the catalog.
func Parse(data []byte, catalog Catalog) (*Profile, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse profile: %v", ErrProfileInvariant, err)
	}
	return doc.resolve(catalog)
}

func (d document) resolve(catalog Catalog) (*Profile, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrProfileInvariant)
	}
	invariant := func(format string, args ...any) error {
		return fmt.Errorf("%w: profile %q: %s", ErrProfileInvariant, d.Name, fmt.Sprintf(format, args...))
	}

	p := &Profile{
		Name:          d.Name,
		Description:   d.Description,
		Weights:       make(map[signal.Category]float64, len(d.Weights)),
		Rules:         make([]redflag.Rule, 0, len(d.Rules)),
		MinConfidence: score.DefaultMinConfidence,
		Bands:         d.Bands,
	}

	for key, w := range d.Weights {
		c, err := signal.ParseCategory(key)
		if err != nil {
			return nil, invariant("%v", err)
		}
		if _, dup := p.Weights[c]; dup {
			return nil, invariant("category %s weighted more than once", c)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, invariant("weight for %s must be a finite value >= 0", c)
		}
		p.Weights[c] = w
	}
	var sum float64
	for _, c := range signal.Categories() {
		w, ok := p.Weights[c]
		if !ok {
			return nil, invariant("missing weight for %s", c)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return nil, invariant("weights sum to %g, want 1", sum)
	}

	if d.MaxBoost == nil {
		return nil, invariant("max_boost is required")
	}
	if *d.MaxBoost < 0 || math.IsNaN(*d.MaxBoost) {
		return nil, invariant("max_boost must be >= 0")
	}
	p.MaxBoost = *d.MaxBoost

	if d.MinConfidence != nil {
		if *d.MinConfidence < 0 || *d.MinConfidence > 1 {
			return nil, invariant("min_confidence must be in [0,1]")
		}
		p.MinConfidence = *d.MinConfidence
	}

	if len(p.Bands) == 0 {
		p.Bands = score.DefaultBands()
	}
	if err := p.Bands.Validate(); err != nil {
		return nil, invariant("bands: %v", err)
	}

	seen := make(map[string]bool, len(d.Rules))
	for _, ref := range d.Rules {
		if seen[ref.ID] {
			return nil, invariant("rule %q listed twice", ref.ID)
		}
		seen[ref.ID] = true
		rule, ok := catalog[ref.ID]
		if !ok {
			return nil, invariant("unknown rule %q", ref.ID)
		}
		if ref.Boost != nil {
			rule.Boost = *ref.Boost
			if err := rule.Validate(); err != nil {
				return nil, invariant("%v", err)
			}
		}
		p.Rules = append(p.Rules, rule)
	}

	for chain, tokens := range d.WellKnown {
		for _, token := range tokens {
			c, t, err := validation.NormalizeTarget(chain, token)
			if err != nil {
				return nil, invariant("well_known: %v", err)
			}
			if p.WellKnown == nil {
				p.WellKnown = make(map[string][]string)
			}
			p.WellKnown[c] = append(p.WellKnown[c], t)
		}
	}
	return p, nil
}
