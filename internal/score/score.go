// Package score combines category scores and red-flag boosts into the
// final composite assessment.
//
// The explanation trace is additive: summing every trace entry gives back
// the final score, up to rounding. Adjustments for the boost cap and the
// [0,100] clamp appear as their own entries so nothing is hidden.
package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/tokenrisk/internal/normalize"
	"github.com/mbd888/tokenrisk/internal/redflag"
	"github.com/mbd888/tokenrisk/internal/signal"
)

// DefaultMinConfidence is the confidence a category needs to count as
// available in the completeness figure.
const DefaultMinConfidence = 0.5

// FactorKind tells what a trace entry stands for.
type FactorKind string

const (
	FactorCategory   FactorKind = "category"
	FactorFlag       FactorKind = "flag"
	FactorAdjustment FactorKind = "adjustment"
)

// Adjustment factor names.
const (
	AdjustBoostCap = "boost_cap"
	AdjustClamp    = "clamp"
)

// Contribution is one line of the explanation trace.
type Contribution struct {
	Factor string     `json:"factor"`
	Kind   FactorKind `json:"kind"`
	Value  float64    `json:"value"`
	Detail string     `json:"detail,omitempty"`
}

// CategoryResult is a category score as it entered the composite.
type CategoryResult struct {
	Category     signal.Category `json:"category"`
	Score        float64         `json:"score"`
	Confidence   float64         `json:"confidence"`
	Available    bool            `json:"available"`
	Weight       float64         `json:"weight"`
	Contribution float64         `json:"contribution"`
	Signals      []string        `json:"signals"`
}

// Assessment is the composite record for one request. It is created once
// by Aggregate and never modified afterwards.
type Assessment struct {
	ID      string `json:"id"`
	Token   string `json:"token"`
	Chain   string `json:"chain"`
	Profile string `json:"profile"`

	Categories []CategoryResult `json:"categories"`
	Flags      []redflag.Flag   `json:"flags"`
	Skipped    []redflag.Skip   `json:"skippedRules"`

	WeightedSum  float64 `json:"weightedSum"`
	BoostRaw     float64 `json:"boostRaw"`
	BoostTotal   float64 `json:"boostTotal"`
	FinalScore   float64 `json:"finalScore"`
	Tier         Tier    `json:"tier"`
	Completeness float64 `json:"completeness"`

	Trace       []Contribution   `json:"trace"`
	Annotations []normalize.Note `json:"annotations,omitempty"`

	AssessedAt time.Time `json:"assessedAt"`
}

// Category returns the result for c.
func (a *Assessment) Category(c signal.Category) (CategoryResult, bool) {
	for _, cr := range a.Categories {
		if cr.Category == c {
			return cr, true
		}
	}
	return CategoryResult{}, false
}

// TraceSum adds up every trace entry.
func (a *Assessment) TraceSum() float64 {
	var sum float64
	for _, c := range a.Trace {
		sum += c.Value
	}
	return sum
}

// Inputs carries everything Aggregate needs.
type Inputs struct {
	RequestID string
	Token     string
	Chain     string
	Profile   string

	Scores        []normalize.CategoryScore
	Weights       map[signal.Category]float64
	Flags         redflag.Result
	Bands         Bands
	MinConfidence float64

	AssessedAt time.Time
}

// Aggregate builds the composite assessment.
func Aggregate(in Inputs) *Assessment {
	bands := in.Bands
	if len(bands) == 0 {
		bands = DefaultBands()
	}

	a := &Assessment{
		ID:          in.RequestID,
		Token:       in.Token,
		Chain:       in.Chain,
		Profile:     in.Profile,
		Categories:  make([]CategoryResult, 0, len(in.Scores)),
		Flags:       append([]redflag.Flag{}, in.Flags.Flags...),
		Skipped:     append([]redflag.Skip{}, in.Flags.Skipped...),
		Trace:       make([]Contribution, 0, len(in.Scores)+len(in.Flags.Flags)+2),
		AssessedAt:  in.AssessedAt,
		Annotations: []normalize.Note{},
	}

	var weighted, traced float64
	var complete int
	for _, cs := range in.Scores {
		w := in.Weights[cs.Category]
		contribution := w * cs.Value
		weighted += contribution

		rounded := round(contribution, 4)
		traced += rounded
		a.Categories = append(a.Categories, CategoryResult{
			Category:     cs.Category,
			Score:        cs.Value,
			Confidence:   cs.Confidence,
			Available:    cs.Available,
			Weight:       w,
			Contribution: rounded,
			Signals:      append([]string{}, cs.Signals...),
		})
		a.Trace = append(a.Trace, Contribution{
			Factor: string(cs.Category),
			Kind:   FactorCategory,
			Value:  rounded,
			Detail: categoryDetail(w, cs),
		})
		if cs.Available && cs.Confidence >= in.MinConfidence {
			complete++
		}
		a.Annotations = append(a.Annotations, cs.Notes...)
	}

	for _, f := range in.Flags.Flags {
		traced += f.Boost
		a.Trace = append(a.Trace, Contribution{
			Factor: f.ID,
			Kind:   FactorFlag,
			Value:  f.Boost,
			Detail: f.Description,
		})
	}

	boost := in.Flags.Total
	if in.Flags.Capped() {
		adj := round(boost-in.Flags.RawTotal, 4)
		traced += adj
		a.Trace = append(a.Trace, Contribution{
			Factor: AdjustBoostCap,
			Kind:   FactorAdjustment,
			Value:  adj,
			Detail: fmt.Sprintf("boost capped at %g", in.Flags.MaxBoost),
		})
	}

	raw := weighted + boost
	final := round(clamp(raw, 0, 100), 2)
	if raw > 100 || raw < 0 {
		a.Trace = append(a.Trace, Contribution{
			Factor: AdjustClamp,
			Kind:   FactorAdjustment,
			Value:  round(final-traced, 4),
			Detail: fmt.Sprintf("score clamped to [0,100] from %.2f", raw),
		})
	}
	sortTrace(a.Trace)

	a.WeightedSum = round(weighted, 2)
	a.BoostRaw = round(in.Flags.RawTotal, 2)
	a.BoostTotal = round(boost, 2)
	a.FinalScore = final
	a.Tier = bands.Classify(final)
	if n := len(in.Scores); n > 0 {
		a.Completeness = round(float64(complete)/float64(n), 4)
	}
	return a
}

func categoryDetail(w float64, cs normalize.CategoryScore) string {
	d := fmt.Sprintf("weight %.2f x score %.2f (confidence %.2f)", w, cs.Value, cs.Confidence)
	if !cs.Available {
		d += ", data unavailable"
	}
	var clamped []string
	for _, n := range cs.Notes {
		if n.Code == normalize.NoteClamped {
			clamped = append(clamped, n.Signal)
		}
	}
	if len(clamped) > 0 {
		d += ", clamped " + strings.Join(clamped, ", ")
	}
	return d
}

// sortTrace orders entries by descending magnitude, ties broken by kind and
// factor name so the order is stable.
func sortTrace(trace []Contribution) {
	sort.SliceStable(trace, func(i, j int) bool {
		ai, aj := math.Abs(trace[i].Value), math.Abs(trace[j].Value)
		if ai != aj {
			return ai > aj
		}
		if trace[i].Kind != trace[j].Kind {
			return trace[i].Kind < trace[j].Kind
		}
		return trace[i].Factor < trace[j].Factor
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
