package redflag

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tokenrisk/internal/normalize"
	"github.com/mbd888/tokenrisk/internal/signal"
)

func f(v float64) *float64 { return &v }

func sampleRules() []Rule {
	return []Rule{
		{ID: "honeypot_pattern", Description: "honeypot", Boost: 30,
			When: Condition{Type: SignalTrue, Signal: "honeypot_pattern"}},
		{ID: "proxy_contract", Description: "proxy", Boost: 10,
			When: Condition{Type: SignalTrue, Signal: "proxy_contract"}},
		{ID: "low_liquidity", Description: "thin liquidity", Boost: 8,
			When: Condition{Type: SignalBelow, Signal: "liquidity_usd", Threshold: f(1_000_000),
				ChainThresholds: map[string]float64{"ethereum": 5_000_000}}},
		{ID: "unverified_contract", Description: "unverified and young or illiquid", Boost: 10,
			When: Condition{Type: All, Conditions: []Condition{
				{Type: SignalFalse, Signal: "contract_verified"},
				{Type: Any, Conditions: []Condition{
					{Type: SignalBelow, Signal: "contract_age_days", Threshold: f(90)},
					{Type: SignalBelow, Signal: "volume_24h_usd", Threshold: f(50_000)},
				}},
			}}},
		{ID: "mica_non_compliant", Description: "stablecoin without MiCA authorization", Boost: 25,
			When: Condition{Type: All, Conditions: []Condition{
				{Type: SignalTrue, Signal: "stablecoin"},
				{Type: SignalNotIn, Signal: "mica_status", Values: []string{"authorized", "exempt"}},
			}}},
		{ID: "hot_regulatory", Description: "regulatory score high", Boost: 5,
			When: Condition{Type: ScoreAbove, Category: signal.Regulatory, Threshold: f(70)}},
	}
}

func ids(flags []Flag) []string {
	out := make([]string, 0, len(flags))
	for _, fl := range flags {
		out = append(out, fl.ID)
	}
	return out
}

func TestSampleRulesValidate(t *testing.T) {
	for _, r := range sampleRules() {
		assert.NoError(t, r.Validate(), r.ID)
	}
}

func TestEvaluateFiresAndSkips(t *testing.T) {
	in := NewInput("Ethereum", []signal.RawSignal{
		signal.Boolean("goplus", "honeypot_pattern", true),
		signal.Boolean("etherscan", "proxy_contract", false),
		signal.Numeric("coingecko", "liquidity_usd", 2_000_000),
	}, nil)

	res := Evaluate(sampleRules(), in, 100)

	assert.Equal(t, []string{"honeypot_pattern", "low_liquidity"}, ids(res.Flags))
	assert.Equal(t, 38.0, res.RawTotal)
	assert.Equal(t, 38.0, res.Total)
	assert.False(t, res.Capped())

	skipped := make(map[string][]string)
	for _, s := range res.Skipped {
		skipped[s.ID] = s.Missing
	}
	assert.Equal(t, []string{"contract_age_days", "contract_verified", "volume_24h_usd"}, skipped["unverified_contract"])
	assert.Equal(t, []string{"mica_status", "stablecoin"}, skipped["mica_non_compliant"])
	assert.Equal(t, []string{"regulatory"}, skipped["hot_regulatory"])
	assert.NotContains(t, skipped, "proxy_contract", "a false rule is not skipped")
}

func TestChainThresholds(t *testing.T) {
	sigs := []signal.RawSignal{signal.Numeric("x", "liquidity_usd", 2_000_000)}

	res := Evaluate(sampleRules()[2:3], NewInput("ethereum", sigs, nil), 100)
	assert.Len(t, res.Flags, 1)

	res = Evaluate(sampleRules()[2:3], NewInput("polygon", sigs, nil), 100)
	assert.Empty(t, res.Flags)
}

func TestWellKnownExemption(t *testing.T) {
	rules := sampleRules()
	rules[2].ExemptWellKnown = true // low_liquidity
	rules[3].ExemptWellKnown = true // unverified_contract

	in := NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "honeypot_pattern", true),
		signal.Numeric("x", "liquidity_usd", 10),
		signal.Boolean("x", "contract_verified", false),
	}, nil)
	in.WellKnown = true
	res := Evaluate(rules[:4], in, 100)
	assert.Equal(t, []string{"honeypot_pattern"}, ids(res.Flags), "exempt rules do not fire")
	for _, s := range res.Skipped {
		assert.NotEqual(t, "unverified_contract", s.ID, "exempt rules are false, not skipped")
	}

	in.WellKnown = false
	res = Evaluate(rules[:4], in, 100)
	assert.Equal(t, []string{"honeypot_pattern", "low_liquidity"}, ids(res.Flags))
}

func TestMissingChainThresholdIsUnknown(t *testing.T) {
	rule := Rule{ID: "eth_only", Boost: 1, When: Condition{Type: SignalAbove, Signal: "liquidity_usd",
		ChainThresholds: map[string]float64{"ethereum": 1}}}
	res := Evaluate([]Rule{rule}, NewInput("bsc", []signal.RawSignal{signal.Numeric("x", "liquidity_usd", 10)}, nil), 10)
	assert.Empty(t, res.Flags)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, []string{"liquidity_usd@bsc"}, res.Skipped[0].Missing)
}

func TestThreeValuedCombinators(t *testing.T) {
	rule := sampleRules()[3] // unverified_contract

	// verified: the All is false even though age and volume are missing
	res := Evaluate([]Rule{rule}, NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "contract_verified", true),
	}, nil), 100)
	assert.Empty(t, res.Flags)
	assert.Empty(t, res.Skipped)

	// unverified and young: the Any is true without volume data
	res = Evaluate([]Rule{rule}, NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "contract_verified", false),
		signal.Numeric("x", "contract_age_days", 12),
	}, nil), 100)
	assert.Equal(t, []string{"unverified_contract"}, ids(res.Flags))

	// unverified, old, volume unknown: skipped
	res = Evaluate([]Rule{rule}, NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "contract_verified", false),
		signal.Numeric("x", "contract_age_days", 400),
	}, nil), 100)
	assert.Empty(t, res.Flags)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, []string{"volume_24h_usd"}, res.Skipped[0].Missing)
}

func TestSignalNotInNeedsEverySource(t *testing.T) {
	rule := sampleRules()[4]
	res := Evaluate([]Rule{rule}, NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("a", "stablecoin", true),
		signal.Categorical("a", "mica_status", "pending"),
		signal.Categorical("b", "mica_status", "Authorized"),
	}, nil), 100)
	assert.Empty(t, res.Flags)

	res = Evaluate([]Rule{rule}, NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("a", "stablecoin", true),
		signal.Categorical("a", "mica_status", "pending"),
	}, nil), 100)
	assert.Len(t, res.Flags, 1)
}

func TestScoreAboveIgnoresDefaultedCategories(t *testing.T) {
	rule := sampleRules()[5]
	scores := []normalize.CategoryScore{{Category: signal.Regulatory, Value: 90, Available: false}}
	res := Evaluate([]Rule{rule}, NewInput("ethereum", nil, scores), 100)
	assert.Empty(t, res.Flags)
	assert.Len(t, res.Skipped, 1)

	scores[0].Available = true
	res = Evaluate([]Rule{rule}, NewInput("ethereum", nil, scores), 100)
	assert.Len(t, res.Flags, 1)
}

func TestBoostCap(t *testing.T) {
	in := NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "honeypot_pattern", true),
		signal.Boolean("x", "proxy_contract", true),
		signal.Numeric("x", "liquidity_usd", 10),
	}, nil)
	res := Evaluate(sampleRules(), in, 40)
	assert.Equal(t, 48.0, res.RawTotal)
	assert.Equal(t, 40.0, res.Total)
	assert.True(t, res.Capped())
}

func TestEvaluationOrderDoesNotChangeResultSet(t *testing.T) {
	in := NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "honeypot_pattern", true),
		signal.Boolean("x", "contract_verified", false),
		signal.Numeric("x", "volume_24h_usd", 10),
		signal.Numeric("x", "liquidity_usd", 10),
	}, nil)

	rules := sampleRules()
	base := Evaluate(rules, in, 50)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Rule(nil), rules...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Evaluate(shuffled, in, 50)
		assert.ElementsMatch(t, ids(base.Flags), ids(got.Flags))
		assert.Equal(t, base.Total, got.Total)
	}
}

func TestBoostMonotonicInRuleSet(t *testing.T) {
	in := NewInput("ethereum", []signal.RawSignal{
		signal.Boolean("x", "honeypot_pattern", true),
		signal.Boolean("x", "proxy_contract", true),
		signal.Numeric("x", "liquidity_usd", 10),
		signal.Boolean("x", "contract_verified", false),
		signal.Numeric("x", "contract_age_days", 3),
	}, nil)

	rules := sampleRules()
	for _, maxBoost := range []float64{0, 25, 50, 1000} {
		prev := -1.0
		for n := 0; n <= len(rules); n++ {
			got := Evaluate(rules[:n], in, maxBoost).Total
			assert.GreaterOrEqual(t, got, prev, "cap %v, %d rules", maxBoost, n)
			prev = got
		}
	}
}

func TestConditionValidation(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
	}{
		{"unknown type", Condition{Type: "maybe"}},
		{"missing signal", Condition{Type: SignalTrue}},
		{"unknown signal", Condition{Type: SignalTrue, Signal: "moon"}},
		{"kind mismatch", Condition{Type: SignalTrue, Signal: "liquidity_usd"}},
		{"no threshold", Condition{Type: SignalBelow, Signal: "liquidity_usd"}},
		{"no values", Condition{Type: SignalIn, Signal: "mica_status"}},
		{"bad category", Condition{Type: ScoreAbove, Category: "vibes", Threshold: f(1)}},
		{"empty all", Condition{Type: All}},
		{"bad nested", Condition{Type: Any, Conditions: []Condition{{Type: SignalTrue}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cond.Validate())
		})
	}
}

func TestRuleValidation(t *testing.T) {
	ok := sampleRules()[0]
	require.NoError(t, ok.Validate())

	bad := ok
	bad.ID = " "
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Boost = -1
	assert.Error(t, bad.Validate())
}
