// Package report writes assessment outcomes to files and reads token lists
// for batch runs.
//
// JSON and YAML carry the full outcome records. CSV flattens each outcome
// into one row with a score column per category.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/signal"
)

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks a format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", filepath.Ext(path))
	}
}

// Write encodes outcomes in the given format.
func Write(w io.Writer, f Format, outcomes []assess.Outcome) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, outcomes)
	case FormatJSON:
		return WriteJSON(w, outcomes)
	case FormatYAML:
		return WriteYAML(w, outcomes)
	default:
		return fmt.Errorf("unsupported report format %q", f)
	}
}

// WriteFile writes outcomes to path in the format its extension names.
func WriteFile(path string, outcomes []assess.Outcome) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := Write(file, f, outcomes); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// WriteJSON writes the outcomes as an indented JSON array.
func WriteJSON(w io.Writer, outcomes []assess.Outcome) error {
	if outcomes == nil {
		outcomes = []assess.Outcome{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}

// WriteYAML writes the outcomes as a YAML sequence with the same keys, in
// the same order, as the JSON form.
func WriteYAML(w io.Writer, outcomes []assess.Outcome) error {
	if outcomes == nil {
		outcomes = []assess.Outcome{}
	}
	data, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}
	// JSON is valid YAML; decoding into a node keeps key order.
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to convert outcomes: %w", err)
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// CSVHeader is the first row written by WriteCSV.
func CSVHeader() []string {
	h := []string{"id", "token", "chain", "profile", "state", "final_score", "tier", "completeness"}
	for _, c := range signal.Categories() {
		h = append(h, string(c))
	}
	return append(h, "red_flags", "skipped_rules", "failure_reason")
}

// WriteCSV writes one row per outcome. Category columns hold the category
// score, or are empty when the category had no data. Failed outcomes leave
// every score column empty and fill failure_reason.
func WriteCSV(w io.Writer, outcomes []assess.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader()); err != nil {
		return err
	}
	for i := range outcomes {
		if err := cw.Write(csvRow(&outcomes[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(o *assess.Outcome) []string {
	row := []string{o.Request.ID, o.Request.Token, o.Request.Chain, o.Request.Profile, string(o.State)}

	a := o.Assessment
	if a == nil {
		row = append(row, "", "", "")
		for range signal.Categories() {
			row = append(row, "")
		}
		reason := ""
		if o.Failure != nil {
			reason = string(o.Failure.Reason)
		}
		return append(row, "", "", reason)
	}

	row[3] = a.Profile
	row = append(row, formatScore(a.FinalScore), string(a.Tier), formatScore(a.Completeness))
	for _, c := range signal.Categories() {
		cr, ok := a.Category(c)
		if !ok || !cr.Available {
			row = append(row, "")
			continue
		}
		row = append(row, formatScore(cr.Score))
	}

	flags := make([]string, 0, len(a.Flags))
	for _, f := range a.Flags {
		flags = append(flags, f.ID)
	}
	skipped := make([]string, 0, len(a.Skipped))
	for _, s := range a.Skipped {
		skipped = append(skipped, s.ID)
	}
	return append(row, strings.Join(flags, ";"), strings.Join(skipped, ";"), "")
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
