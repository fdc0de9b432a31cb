package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool      { return &v }
func numPtr(v float64) *float64 { return &v }
func strPtr(v string) *string   { return &v }

func TestCatalogCoversEveryCategory(t *testing.T) {
	seen := make(map[Category]bool)
	for _, name := range Names() {
		def, ok := Lookup(name)
		require.True(t, ok)
		assert.Equal(t, name, def.Name)
		assert.True(t, def.Category.Valid(), "signal %s has invalid category", name)
		seen[def.Category] = true
	}
	for _, c := range Categories() {
		assert.True(t, seen[c], "no signal feeds category %s", c)
	}
}

func TestExtractExplorerPayload(t *testing.T) {
	env, err := Wrap("etherscan", &ExplorerPayload{
		ContractVerified: boolPtr(false),
		HolderCount:      numPtr(420),
	}, time.Unix(0, 0))
	require.NoError(t, err)

	sigs, err := Extract(env)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, "etherscan.contract_verified", sigs[0].ID)
	assert.Equal(t, ContractSafety, sigs[0].Category)
	assert.Equal(t, KindBoolean, sigs[0].Kind)
	assert.False(t, sigs[0].Bool)
	assert.True(t, sigs[0].OK())

	assert.Equal(t, MarketStructure, sigs[1].Category)
	assert.Equal(t, 420.0, sigs[1].Number)
	assert.Equal(t, "holders", sigs[1].Unit)
}

func TestExtractFailedEnvelopeYieldsAbsentSignals(t *testing.T) {
	env := Envelope{Provider: ProviderCompliance, Source: "scorechain", Status: StatusTimeout}

	sigs, err := Extract(env)
	require.NoError(t, err)
	assert.Len(t, sigs, len(ProvidedBy(ProviderCompliance)))
	for _, s := range sigs {
		assert.Equal(t, StatusTimeout, s.Status)
		assert.Equal(t, Regulatory, s.Category)
		assert.False(t, s.OK())
	}
}

func TestExtractUnknownProvider(t *testing.T) {
	_, err := Extract(Envelope{Provider: "oracle", Status: StatusOK, Body: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestExtractMalformedBody(t *testing.T) {
	_, err := Extract(Envelope{Provider: ProviderMarket, Status: StatusOK, Body: json.RawMessage(`{"liquidityUsd":"lots"}`)})
	require.Error(t, err)
}

func TestMarketWhitepaperAndLabels(t *testing.T) {
	m := &MarketPayload{WhitepaperURL: strPtr("  ")}
	sigs := m.Signals("coingecko")
	require.Len(t, sigs, 1)
	assert.Equal(t, "has_whitepaper", sigs[0].Name)
	assert.False(t, sigs[0].Bool)

	c := &CompliancePayload{MiCAStatus: strPtr(" Authorized ")}
	sigs = c.Signals("lukka")
	require.Len(t, sigs, 1)
	assert.Equal(t, "authorized", sigs[0].Label)
}

func TestIndexMergesSources(t *testing.T) {
	idx := NewIndex([]RawSignal{
		Numeric("a", "liquidity_usd", 1000),
		Numeric("b", "liquidity_usd", 5000),
		Boolean("a", "proxy_contract", false),
		Boolean("b", "proxy_contract", true),
		Absent("c", "holder_count", StatusFailed),
	})

	hi, ok := idx.Number("liquidity_usd")
	require.True(t, ok)
	assert.Equal(t, 5000.0, hi)

	lo, ok := idx.MinNumber("liquidity_usd")
	require.True(t, ok)
	assert.Equal(t, 1000.0, lo)

	b, ok := idx.Bool("proxy_contract")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = idx.Number("holder_count")
	assert.False(t, ok, "absent signals must not be indexed")
}

func TestByCategoryAlwaysHasFiveKeys(t *testing.T) {
	groups := ByCategory(nil)
	assert.Len(t, groups, 5)
}

func TestValidate(t *testing.T) {
	ok := Numeric("x", "liquidity_usd", 1)
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Category = "weather"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Status = "maybe"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Source = ""
	assert.Error(t, bad.Validate())

	bad = Boolean("x", "sanctioned_exposure", true)
	bad.Category = Governance
	assert.ErrorContains(t, bad.Validate(), "category")

	bad = Numeric("x", "sanctioned_exposure", 1)
	assert.ErrorContains(t, bad.Validate(), "kind")

	custom := Numeric("x", "dex_pair_age_days", 3)
	custom.Category = MarketStructure
	assert.NoError(t, custom.Validate(), "names outside the catalog keep their declared shape")
}

func TestCanonicalLowercasesLabel(t *testing.T) {
	s := RawSignal{Name: "mica_status", Kind: KindCategorical, Label: " Authorized "}
	assert.Equal(t, "authorized", s.Canonical().Label)
	assert.Equal(t, "authorized", Categorical("x", "mica_status", "AUTHORIZED").Label)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Regulatory ")
	require.NoError(t, err)
	assert.Equal(t, Regulatory, c)

	_, err = ParseCategory("vibes")
	assert.Error(t, err)
}
