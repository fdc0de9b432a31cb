package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownChain = errors.New("unknown chain")
	ErrInvalidToken = errors.New("invalid token address")
)

// Chain describes a supported EVM network.
type Chain struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	ChainID  int64  `json:"chainId" yaml:"chainId"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Explorer string `json:"explorer" yaml:"explorer"`
}

var chains = map[string]Chain{
	"ethereum":  {ID: "ethereum", Name: "Ethereum", ChainID: 1, Symbol: "ETH", Explorer: "https://etherscan.io"},
	"bsc":       {ID: "bsc", Name: "BNB Smart Chain", ChainID: 56, Symbol: "BNB", Explorer: "https://bscscan.com"},
	"polygon":   {ID: "polygon", Name: "Polygon PoS", ChainID: 137, Symbol: "POL", Explorer: "https://polygonscan.com"},
	"arbitrum":  {ID: "arbitrum", Name: "Arbitrum One", ChainID: 42161, Symbol: "ETH", Explorer: "https://arbiscan.io"},
	"optimism":  {ID: "optimism", Name: "OP Mainnet", ChainID: 10, Symbol: "ETH", Explorer: "https://optimistic.etherscan.io"},
	"base":      {ID: "base", Name: "Base", ChainID: 8453, Symbol: "ETH", Explorer: "https://basescan.org"},
	"avalanche": {ID: "avalanche", Name: "Avalanche C-Chain", ChainID: 43114, Symbol: "AVAX", Explorer: "https://snowtrace.io"},
}

var chainAliases = map[string]string{
	"eth":     "ethereum",
	"mainnet": "ethereum",
	"bnb":     "bsc",
	"binance": "bsc",
	"matic":   "polygon",
	"arb":     "arbitrum",
	"op":      "optimism",
	"avax":    "avalanche",
}

// LookupChain resolves a chain id or alias, case-insensitively.
func LookupChain(s string) (Chain, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := chainAliases[key]; ok {
		key = alias
	}
	c, ok := chains[key]
	return c, ok
}

// Chains returns every supported chain, sorted by id.
func Chains() []Chain {
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NormalizeChain returns the canonical id for a chain name or alias.
func NormalizeChain(s string) (string, error) {
	c, ok := LookupChain(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
	}
	return c.ID, nil
}

// NormalizeToken validates a token contract address and returns its EIP-55
// checksummed form. A missing 0x prefix is tolerated.
func NormalizeToken(token string) (string, error) {
	t := strings.TrimSpace(token)
	if len(t) == 40 && !strings.HasPrefix(t, "0x") && !strings.HasPrefix(t, "0X") {
		t = "0x" + t
	}
	if !common.IsHexAddress(t) {
		return "", fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	addr := common.HexToAddress(t)
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", ErrInvalidToken)
	}
	return addr.Hex(), nil
}

// NormalizeTarget validates and canonicalizes a chain / token pair.
func NormalizeTarget(chain, token string) (string, string, error) {
	c, err := NormalizeChain(chain)
	if err != nil {
		return "", "", err
	}
	t, err := NormalizeToken(token)
	if err != nil {
		return "", "", err
	}
	return c, t, nil
}
