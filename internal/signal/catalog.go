package signal

import "sort"

// Definition describes a known signal name.
type Definition struct {
	Name     string
	Category Category
	Kind     Kind
	Unit     string
	Provider ProviderKind
}

// catalog lists every signal the extractors know how to produce.
var catalog = map[string]Definition{
	// explorer
	"contract_verified": {Category: ContractSafety, Kind: KindBoolean, Provider: ProviderExplorer},
	"proxy_contract":    {Category: ContractSafety, Kind: KindBoolean, Provider: ProviderExplorer},
	"owner_change_24h":  {Category: ContractSafety, Kind: KindBoolean, Provider: ProviderExplorer},
	"contract_age_days": {Category: ContractSafety, Kind: KindNumeric, Unit: "days", Provider: ProviderExplorer},
	"holder_count":      {Category: MarketStructure, Kind: KindNumeric, Unit: "holders", Provider: ProviderExplorer},
	"top10_holder_pct":  {Category: MarketStructure, Kind: KindNumeric, Unit: "percent", Provider: ProviderExplorer},

	// market
	"liquidity_usd":        {Category: MarketStructure, Kind: KindNumeric, Unit: "usd", Provider: ProviderMarket},
	"volume_24h_usd":       {Category: MarketStructure, Kind: KindNumeric, Unit: "usd", Provider: ProviderMarket},
	"market_cap_usd":       {Category: MarketStructure, Kind: KindNumeric, Unit: "usd", Provider: ProviderMarket},
	"price_change_24h_pct": {Category: MarketStructure, Kind: KindNumeric, Unit: "percent", Provider: ProviderMarket},
	"has_whitepaper":       {Category: Governance, Kind: KindBoolean, Provider: ProviderMarket},

	// security
	"honeypot_pattern":       {Category: ContractSafety, Kind: KindBoolean, Provider: ProviderSecurity},
	"audit_status":           {Category: ContractSafety, Kind: KindCategorical, Provider: ProviderSecurity},
	"lp_lock_days_remaining": {Category: ContractSafety, Kind: KindNumeric, Unit: "days", Provider: ProviderSecurity},

	// compliance
	"sanctioned_exposure":      {Category: Regulatory, Kind: KindBoolean, Provider: ProviderCompliance},
	"aml_risk_score":           {Category: Regulatory, Kind: KindNumeric, Unit: "score", Provider: ProviderCompliance},
	"mica_status":              {Category: Regulatory, Kind: KindCategorical, Provider: ProviderCompliance},
	"stablecoin":               {Category: Regulatory, Kind: KindBoolean, Provider: ProviderCompliance},
	"eu_unlicensed_stablecoin": {Category: Regulatory, Kind: KindBoolean, Provider: ProviderCompliance},
	"eu_regulatory_issue":      {Category: Regulatory, Kind: KindBoolean, Provider: ProviderCompliance},

	// governance
	"admin_multisig": {Category: Governance, Kind: KindBoolean, Provider: ProviderGovernance},
	"timelock_hours": {Category: Governance, Kind: KindNumeric, Unit: "hours", Provider: ProviderGovernance},
	"team_public":    {Category: Governance, Kind: KindBoolean, Provider: ProviderGovernance},

	// social
	"sentiment_score": {Category: SocialReputation, Kind: KindNumeric, Unit: "ratio", Provider: ProviderSocial},
	"social_volume":   {Category: SocialReputation, Kind: KindNumeric, Unit: "mentions", Provider: ProviderSocial},
	"scam_reports":    {Category: SocialReputation, Kind: KindNumeric, Unit: "reports", Provider: ProviderSocial},
	"dev_commits_90d": {Category: Governance, Kind: KindNumeric, Unit: "commits", Provider: ProviderSocial},
}

func init() {
	for name, def := range catalog {
		def.Name = name
		catalog[name] = def
	}
}

// Lookup returns the definition for a signal name.
func Lookup(name string) (Definition, bool) {
	def, ok := catalog[name]
	return def, ok
}

// ProvidedBy returns the names of the signals a provider kind produces,
// sorted for stable output.
func ProvidedBy(kind ProviderKind) []string {
	var names []string
	for name, def := range catalog {
		if def.Provider == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns every known signal name, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
