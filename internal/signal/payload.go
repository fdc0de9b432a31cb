package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProviderKind tags the payload variant carried by an Envelope.
type ProviderKind string

const (
	ProviderExplorer   ProviderKind = "explorer"
	ProviderMarket     ProviderKind = "market"
	ProviderSecurity   ProviderKind = "security"
	ProviderCompliance ProviderKind = "compliance"
	ProviderGovernance ProviderKind = "governance"
	ProviderSocial     ProviderKind = "social"
)

// ProviderKinds returns every provider kind in a fixed order.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{
		ProviderExplorer,
		ProviderMarket,
		ProviderSecurity,
		ProviderCompliance,
		ProviderGovernance,
		ProviderSocial,
	}
}

// ErrUnknownProvider is returned for envelopes with an unrecognized kind.
var ErrUnknownProvider = errors.New("unknown provider kind")

// Envelope is one provider response for one token, as handed over by the
// collection layer. Body holds the kind-specific JSON payload.
type Envelope struct {
	Provider  ProviderKind    `json:"provider"`
	Source    string          `json:"source"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Payload is implemented by every provider variant.
type Payload interface {
	Kind() ProviderKind
	Signals(source string) []RawSignal
}

// Extract converts an envelope into raw signals. Envelopes with a non-ok
// status yield one absent signal per signal the provider kind declares, so
// the gap stays visible to the normalizer.
func Extract(env Envelope) ([]RawSignal, error) {
	if env.Source == "" {
		env.Source = string(env.Provider)
	}
	if env.Status != "" && env.Status != StatusOK {
		return AbsentFor(env.Provider, env.Source, env.Status), nil
	}

	p, err := Decode(env.Provider, env.Body)
	if err != nil {
		return nil, fmt.Errorf("extract %s/%s: %w", env.Provider, env.Source, err)
	}
	return p.Signals(env.Source), nil
}

// AbsentFor returns absent signals covering everything kind would produce.
func AbsentFor(kind ProviderKind, source string, status Status) []RawSignal {
	names := ProvidedBy(kind)
	out := make([]RawSignal, 0, len(names))
	for _, name := range names {
		out = append(out, Absent(source, name, status))
	}
	return out
}

// Decode unmarshals body into the payload variant for kind.
func Decode(kind ProviderKind, body []byte) (Payload, error) {
	var p Payload
	switch kind {
	case ProviderExplorer:
		p = &ExplorerPayload{}
	case ProviderMarket:
		p = &MarketPayload{}
	case ProviderSecurity:
		p = &SecurityPayload{}
	case ProviderCompliance:
		p = &CompliancePayload{}
	case ProviderGovernance:
		p = &GovernancePayload{}
	case ProviderSocial:
		p = &SocialPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// Wrap encodes a payload into an ok envelope.
func Wrap(source string, p Payload, fetchedAt time.Time) (Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return Envelope{
		Provider:  p.Kind(),
		Source:    source,
		Status:    StatusOK,
		Body:      body,
		FetchedAt: fetchedAt,
	}, nil
}

// ExplorerPayload is what a block explorer (Etherscan-style) reports.
type ExplorerPayload struct {
	ContractVerified    *bool    `json:"contractVerified,omitempty"`
	ProxyContract       *bool    `json:"proxyContract,omitempty"`
	OwnerChangedLast24h *bool    `json:"ownerChangedLast24h,omitempty"`
	ContractAgeDays     *float64 `json:"contractAgeDays,omitempty"`
	HolderCount         *float64 `json:"holderCount,omitempty"`
	Top10HolderPct      *float64 `json:"top10HolderPct,omitempty"`
}

func (p *ExplorerPayload) Kind() ProviderKind { return ProviderExplorer }

func (p *ExplorerPayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendBool(out, source, "contract_verified", p.ContractVerified)
	out = appendBool(out, source, "proxy_contract", p.ProxyContract)
	out = appendBool(out, source, "owner_change_24h", p.OwnerChangedLast24h)
	out = appendNumber(out, source, "contract_age_days", p.ContractAgeDays)
	out = appendNumber(out, source, "holder_count", p.HolderCount)
	out = appendNumber(out, source, "top10_holder_pct", p.Top10HolderPct)
	return out
}

// MarketPayload is what a market data feed (CoinGecko-style) reports.
type MarketPayload struct {
	LiquidityUSD      *float64 `json:"liquidityUsd,omitempty"`
	Volume24hUSD      *float64 `json:"volume24hUsd,omitempty"`
	MarketCapUSD      *float64 `json:"marketCapUsd,omitempty"`
	PriceChange24hPct *float64 `json:"priceChange24hPct,omitempty"`
	WhitepaperURL     *string  `json:"whitepaperUrl,omitempty"`
}

func (p *MarketPayload) Kind() ProviderKind { return ProviderMarket }

func (p *MarketPayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendNumber(out, source, "liquidity_usd", p.LiquidityUSD)
	out = appendNumber(out, source, "volume_24h_usd", p.Volume24hUSD)
	out = appendNumber(out, source, "market_cap_usd", p.MarketCapUSD)
	out = appendNumber(out, source, "price_change_24h_pct", p.PriceChange24hPct)
	if p.WhitepaperURL != nil {
		out = append(out, Boolean(source, "has_whitepaper", strings.TrimSpace(*p.WhitepaperURL) != ""))
	}
	return out
}

// SecurityPayload is what an audit / contract scanner reports.
type SecurityPayload struct {
	HoneypotPattern     *bool    `json:"honeypotPattern,omitempty"`
	AuditStatus         *string  `json:"auditStatus,omitempty"`
	LPLockDaysRemaining *float64 `json:"lpLockDaysRemaining,omitempty"`
}

func (p *SecurityPayload) Kind() ProviderKind { return ProviderSecurity }

func (p *SecurityPayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendBool(out, source, "honeypot_pattern", p.HoneypotPattern)
	out = appendLabel(out, source, "audit_status", p.AuditStatus)
	out = appendNumber(out, source, "lp_lock_days_remaining", p.LPLockDaysRemaining)
	return out
}

// CompliancePayload is what an AML / sanctions / regulatory source reports.
type CompliancePayload struct {
	SanctionedExposure     *bool    `json:"sanctionedExposure,omitempty"`
	AMLRiskScore           *float64 `json:"amlRiskScore,omitempty"`
	MiCAStatus             *string  `json:"micaStatus,omitempty"`
	Stablecoin             *bool    `json:"stablecoin,omitempty"`
	EUUnlicensedStablecoin *bool    `json:"euUnlicensedStablecoin,omitempty"`
	EURegulatoryIssue      *bool    `json:"euRegulatoryIssue,omitempty"`
}

func (p *CompliancePayload) Kind() ProviderKind { return ProviderCompliance }

func (p *CompliancePayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendBool(out, source, "sanctioned_exposure", p.SanctionedExposure)
	out = appendNumber(out, source, "aml_risk_score", p.AMLRiskScore)
	out = appendLabel(out, source, "mica_status", p.MiCAStatus)
	out = appendBool(out, source, "stablecoin", p.Stablecoin)
	out = appendBool(out, source, "eu_unlicensed_stablecoin", p.EUUnlicensedStablecoin)
	out = appendBool(out, source, "eu_regulatory_issue", p.EURegulatoryIssue)
	return out
}

// GovernancePayload describes admin control over the token contract.
type GovernancePayload struct {
	AdminMultisig *bool    `json:"adminMultisig,omitempty"`
	TimelockHours *float64 `json:"timelockHours,omitempty"`
	TeamPublic    *bool    `json:"teamPublic,omitempty"`
}

func (p *GovernancePayload) Kind() ProviderKind { return ProviderGovernance }

func (p *GovernancePayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendBool(out, source, "admin_multisig", p.AdminMultisig)
	out = appendNumber(out, source, "timelock_hours", p.TimelockHours)
	out = appendBool(out, source, "team_public", p.TeamPublic)
	return out
}

// SocialPayload is what a social / news / dev-activity feed reports.
type SocialPayload struct {
	SentimentScore *float64 `json:"sentimentScore,omitempty"`
	SocialVolume   *float64 `json:"socialVolume,omitempty"`
	ScamReports    *float64 `json:"scamReports,omitempty"`
	DevCommits90d  *float64 `json:"devCommits90d,omitempty"`
}

func (p *SocialPayload) Kind() ProviderKind { return ProviderSocial }

func (p *SocialPayload) Signals(source string) []RawSignal {
	var out []RawSignal
	out = appendNumber(out, source, "sentiment_score", p.SentimentScore)
	out = appendNumber(out, source, "social_volume", p.SocialVolume)
	out = appendNumber(out, source, "scam_reports", p.ScamReports)
	out = appendNumber(out, source, "dev_commits_90d", p.DevCommits90d)
	return out
}

func appendBool(out []RawSignal, source, name string, v *bool) []RawSignal {
	if v == nil {
		return out
	}
	return append(out, Boolean(source, name, *v))
}

func appendNumber(out []RawSignal, source, name string, v *float64) []RawSignal {
	if v == nil {
		return out
	}
	return append(out, Numeric(source, name, *v))
}

func appendLabel(out []RawSignal, source, name string, v *string) []RawSignal {
	if v == nil || strings.TrimSpace(*v) == "" {
		return out
	}
	return append(out, Categorical(source, name, strings.TrimSpace(*v)))
}
