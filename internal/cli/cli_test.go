package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tokenrisk/internal/assess"
)

const usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

// clearEnv keeps the host environment out of config.Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "PROFILE_DIR",
		"RULES_FILE", "DEFAULT_PROFILE", "COLLECT_TIMEOUT", "BATCH_CONCURRENCY",
		"PAYLOAD_DIR", "CACHE_DIR", "CACHE_TTL", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"PROVIDER_RPS", "HISTORY_FILE", "WATCH_PROFILES", "CORS_ORIGINS", "RATE_LIMIT_RPM",
		"WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_MIN_TIER", "WEBHOOK_FAILURES",
		"ETHERSCAN_API_URL", "COINGECKO_API_URL", "GOPLUS_API_URL",
		"COMPLIANCE_API_URL", "GOVERNANCE_API_URL", "SOCIAL_API_URL",
	} {
		t.Setenv(key, "")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(BuildInfo{Version: "v1.2.3", Commit: "abc123", BuildTime: "today"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// payloadDir writes explorer and market payloads for USDT on ethereum. The
// other providers have no file and report unavailable.
func payloadDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	tokenDir := filepath.Join(dir, "ethereum", strings.ToLower(usdt))
	require.NoError(t, os.MkdirAll(tokenDir, 0o750))
	files := map[string]string{
		"explorer.json": `{"contractVerified": true, "proxyContract": false, "contractAgeDays": 800, "holderCount": 50000, "top10HolderPct": 20}`,
		"market.json":   `{"liquidityUsd": 8000000, "volume24hUsd": 1000000, "marketCapUsd": 1000000000}`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tokenDir, name), []byte(body), 0o600))
	}
	return dir
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tokenrisk v1.2.3 (commit abc123, built today")
}

func TestProfiles(t *testing.T) {
	clearEnv(t)

	out, err := run(t, "profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "global")

	out, err = run(t, "profiles", "show", "Global")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile:         global")
	assert.Contains(t, out, "Weights:")
	assert.Contains(t, out, "market_structure")
	assert.Contains(t, out, "Tiers:")
	assert.Contains(t, out, "Well-known tokens:")
	assert.Contains(t, out, "0xdAC17F958D2ee523a2206206994597C13D831ec7")

	_, err = run(t, "profiles", "show", "martian")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: ")
}

func TestAssess_Text(t *testing.T) {
	clearEnv(t)

	out, err := run(t, "assess", strings.ToLower(usdt), "--chain", "eth", "--payloads", payloadDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Token: "+usdt+" (ethereum)")
	assert.Contains(t, out, "Profile: global")
	assert.Contains(t, out, "Score: ")
	assert.Contains(t, out, "Categories:")
}

func TestAssess_JSON(t *testing.T) {
	clearEnv(t)

	out, err := run(t, "assess", usdt, "--payloads", payloadDir(t), "-o", "json")
	require.NoError(t, err)

	var outcomes []assess.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, assess.StateFinalized, outcomes[0].State)
	require.NotNil(t, outcomes[0].Assessment)
	assert.Less(t, outcomes[0].Assessment.Completeness, 1.0, "missing providers lower completeness")
}

func TestAssess_Errors(t *testing.T) {
	clearEnv(t)

	_, err := run(t, "assess", usdt)
	assert.ErrorIs(t, err, errNoSource)

	_, err = run(t, "assess", usdt, "--payloads", payloadDir(t), "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	out, err := run(t, "assess", usdt, "--payloads", payloadDir(t), "--profile", "martian")
	require.Error(t, err)
	assert.Equal(t, assess.ReasonUnknownProfile, assess.ReasonOf(err))
	assert.Contains(t, out, "failed unknown_profile")
}

func TestBatch_ReportsAndHistory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "tokens.csv")
	require.NoError(t, os.WriteFile(input, []byte("address,chain\n"+usdt+",eth\n0xnothex,eth\n"), 0o600))
	csvPath := filepath.Join(dir, "report.csv")
	jsonPath := filepath.Join(dir, "report.json")
	history := filepath.Join(dir, "history.db")

	out, err := run(t, "batch",
		"--input", input,
		"--output", csvPath,
		"--output", jsonPath,
		"--payloads", payloadDir(t),
		"--history", history,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Total tokens processed: 2")
	assert.Contains(t, out, "failed invalid_request: 1")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3, "header plus one row per token")

	data, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	var outcomes []assess.Outcome
	require.NoError(t, json.Unmarshal(data, &outcomes))
	require.Len(t, outcomes, 2)
	assert.Equal(t, assess.StateFinalized, outcomes[0].State, "input order is kept")
	assert.Equal(t, assess.StateFailed, outcomes[1].State)

	out, err = run(t, "history", usdt, "--history", history)
	require.NoError(t, err)
	assert.Contains(t, out, "REQUESTED")
	assert.Contains(t, out, outcomes[0].Request.ID)
	assert.Contains(t, out, "finalized")
}

func TestBatch_FailOn(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "tokens.csv")
	require.NoError(t, os.WriteFile(input, []byte("token\n"+usdt+"\n"), 0o600))

	out, err := run(t, "batch", "--input", input, "--payloads", payloadDir(t), "--fail-on", "low")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 token(s) at or above Low")
	assert.Contains(t, out, "Total tokens processed: 1", "summary is printed before failing")

	_, err = run(t, "batch", "--input", input, "--payloads", payloadDir(t), "--fail-on", "severe")
	assert.ErrorContains(t, err, "unknown tier")

	_, err = run(t, "batch", "--input", input, "--output", filepath.Join(dir, "r.xlsx"))
	assert.ErrorContains(t, err, "unsupported report format")
}

func TestHistory_RequiresFile(t *testing.T) {
	clearEnv(t)

	_, err := run(t, "history", usdt)
	assert.ErrorContains(t, err, "no history file")

	_, err = run(t, "history", "0xnothex", "--history", filepath.Join(t.TempDir(), "h.db"))
	assert.Error(t, err)
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	clearEnv(t)

	_, err := run(t, "migrate", "up")
	assert.ErrorContains(t, err, "DATABASE_URL is required")

	_, err = run(t, "migrate")
	assert.Error(t, err)
}
