package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/redflag"
	"github.com/mbd888/tokenrisk/internal/score"
	"github.com/mbd888/tokenrisk/internal/signal"
)

const usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func outcomes() []assess.Outcome {
	ok := assess.NewRequestAt(usdt, "ethereum", "", at)
	bad := assess.NewRequestAt(usdt, "ethereum", "martian", at)
	return []assess.Outcome{
		{
			Request: ok,
			State:   assess.StateFinalized,
			Assessment: &score.Assessment{
				ID:      ok.ID,
				Token:   ok.Token,
				Chain:   ok.Chain,
				Profile: "global",
				Categories: []score.CategoryResult{
					{Category: signal.MarketStructure, Score: 12.5, Available: true},
					{Category: signal.ContractSafety, Score: 40, Available: true},
					{Category: signal.Governance, Score: 20, Available: true},
					{Category: signal.Regulatory, Score: 65, Available: false},
					{Category: signal.SocialReputation, Score: 5, Available: true},
				},
				Flags:        []redflag.Flag{{ID: "proxy_contract", Boost: 10}, {ID: "owner_change_24h", Boost: 15}},
				Skipped:      []redflag.Skip{{ID: "sanctioned_exposure", Missing: []string{"sanctioned_exposure"}}},
				FinalScore:   47.25,
				Tier:         score.TierMedium,
				Completeness: 0.8,
				AssessedAt:   at,
			},
			CompletedAt: at,
		},
		{
			Request:     bad,
			State:       assess.StateFailed,
			Failure:     &assess.FailureError{Reason: assess.ReasonUnknownProfile, Message: "profile not found", Err: errors.New("profile not found")},
			CompletedAt: at,
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, outcomes()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, CSVHeader(), header)
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}

	ok := records[1]
	assert.Equal(t, usdt, ok[col("token")])
	assert.Equal(t, "global", ok[col("profile")], "resolved profile replaces the empty request profile")
	assert.Equal(t, "finalized", ok[col("state")])
	assert.Equal(t, "47.25", ok[col("final_score")])
	assert.Equal(t, "Medium", ok[col("tier")])
	assert.Equal(t, "0.80", ok[col("completeness")])
	assert.Equal(t, "12.50", ok[col("market_structure")])
	assert.Equal(t, "", ok[col("regulatory")], "unavailable category is blank")
	assert.Equal(t, "proxy_contract;owner_change_24h", ok[col("red_flags")])
	assert.Equal(t, "sanctioned_exposure", ok[col("skipped_rules")])
	assert.Equal(t, "", ok[col("failure_reason")])

	bad := records[2]
	assert.Equal(t, "failed", bad[col("state")])
	assert.Equal(t, "martian", bad[col("profile")])
	assert.Equal(t, "", bad[col("final_score")])
	assert.Equal(t, "unknown_profile", bad[col("failure_reason")])
}

func TestWriteJSON_IsVerbatim(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, outcomes()))

	var got []assess.Outcome
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 47.25, got[0].Assessment.FinalScore)
	assert.Equal(t, assess.ReasonUnknownProfile, got[1].Failure.Reason)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteYAML_KeepsJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, outcomes()))
	out := buf.String()

	assert.Contains(t, out, "finalScore: 47.25")
	assert.Contains(t, out, "tier: Medium")
	assert.NotContains(t, out, "{", "block style only")

	var doc []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc, 2)
	assert.Equal(t, "finalized", doc[0]["state"])
	assert.Less(t, strings.Index(out, "request:"), strings.Index(out, "state:"), "field order follows the JSON form")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"r.csv", "r.json", "r.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteFile(path, outcomes()), name)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), usdt, name)
	}

	err := WriteFile(filepath.Join(dir, "r.xlsx"), outcomes())
	assert.ErrorContains(t, err, "unsupported report format")
}

func TestSummarize(t *testing.T) {
	s := Summarize(outcomes())
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Finalized)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.LowConfidence)
	assert.Equal(t, 1, s.Tiers[score.TierMedium])
	assert.Equal(t, 1, s.Reasons[assess.ReasonUnknownProfile])
	assert.Equal(t, 1, s.Flags["proxy_contract"])

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	assert.Contains(t, buf.String(), "Total tokens processed: 2\n")
	assert.Contains(t, buf.String(), "  Medium: 1\n")
	assert.Contains(t, buf.String(), "  failed unknown_profile: 1\n")
}
