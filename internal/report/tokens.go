package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mbd888/tokenrisk/internal/validation"
)

// DefaultChain is used for rows without a chain column.
const DefaultChain = "ethereum"

// TokenRow is one line of a token list.
type TokenRow struct {
	Line    int
	Token   string
	Chain   string
	Profile string
}

// Warning describes a token list row that was kept but looks wrong.
type Warning struct {
	Line    int
	Token   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s: %s", w.Line, w.Token, w.Message)
}

// ReadTokens reads a CSV token list. The header must name an address (or
// token) column; chain and profile columns are optional. Invalid addresses
// and duplicates are kept so every input line gets an outcome, and are
// reported as warnings.
func ReadTokens(r io.Reader) ([]TokenRow, []Warning, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("token list is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	addrCol, ok := cols["address"]
	if !ok {
		if addrCol, ok = cols["token"]; !ok {
			return nil, nil, errors.New("token list needs an address column")
		}
	}
	chainCol, hasChain := cols["chain"]
	profileCol, hasProfile := cols["profile"]

	var rows []TokenRow
	var warnings []Warning
	seen := make(map[string]int)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read token list: %w", err)
		}
		line, _ := cr.FieldPos(0)
		field := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		row := TokenRow{Line: line, Token: field(addrCol), Chain: DefaultChain}
		if hasChain && field(chainCol) != "" {
			row.Chain = field(chainCol)
		}
		if hasProfile {
			row.Profile = field(profileCol)
		}

		chain, token, err := validation.NormalizeTarget(row.Chain, row.Token)
		if err != nil {
			warnings = append(warnings, Warning{Line: line, Token: row.Token, Message: err.Error()})
		} else {
			key := chain + "/" + strings.ToLower(token) + "/" + strings.ToLower(row.Profile)
			if first, dup := seen[key]; dup {
				warnings = append(warnings, Warning{Line: line, Token: row.Token, Message: fmt.Sprintf("duplicate of line %d", first)})
			} else {
				seen[key] = line
			}
		}
		rows = append(rows, row)
	}
	return rows, warnings, nil
}

// ReadTokensFile reads a token list from path.
func ReadTokensFile(path string) ([]TokenRow, []Warning, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open token list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadTokens(f)
}
