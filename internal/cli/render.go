package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/score"
)

var (
	colorLow      = lipgloss.Color("#2CD7C7")
	colorMedium   = lipgloss.Color("#F4D03F")
	colorHigh     = lipgloss.Color("#E67E22")
	colorCritical = lipgloss.Color("#E74C3C")
	colorMuted    = lipgloss.Color("#7F8C8D")
)

// styler colors output only when it goes to a terminal.
type styler struct {
	enabled bool
}

func newStyler(w io.Writer) styler {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return styler{}
	}
	return styler{enabled: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

func (s styler) render(st lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return st.Render(text)
}

func (s styler) title(text string) string {
	return s.render(lipgloss.NewStyle().Bold(true), text)
}

func (s styler) muted(text string) string {
	return s.render(lipgloss.NewStyle().Foreground(colorMuted), text)
}

func (s styler) tier(t score.Tier) string {
	var c lipgloss.Color
	switch t {
	case score.TierLow:
		c = colorLow
	case score.TierMedium:
		c = colorMedium
	case score.TierHigh:
		c = colorHigh
	case score.TierCritical:
		c = colorCritical
	default:
		return string(t)
	}
	return s.render(lipgloss.NewStyle().Bold(true).Foreground(c), string(t))
}

func (s styler) failure(text string) string {
	return s.render(lipgloss.NewStyle().Foreground(colorCritical), text)
}

// writeOutcome prints the explanation of one outcome.
func writeOutcome(w io.Writer, st styler, out *assess.Outcome) error {
	var b strings.Builder
	req := out.Request
	fmt.Fprintf(&b, "%s %s (%s)\n", st.title("Token:"), req.Token, req.Chain)
	fmt.Fprintf(&b, "%s %s\n", st.title("Assessment:"), req.ID)

	if out.Failure != nil {
		fmt.Fprintf(&b, "%s %s\n", st.title("State:"), st.failure("failed "+string(out.Failure.Reason)))
		fmt.Fprintf(&b, "  %s\n", out.Failure.Message)
		_, err := io.WriteString(w, b.String())
		return err
	}

	a := out.Assessment
	fmt.Fprintf(&b, "%s %s\n", st.title("Profile:"), a.Profile)
	fmt.Fprintf(&b, "%s %.2f %s\n", st.title("Score:"), a.FinalScore, st.tier(a.Tier))
	fmt.Fprintf(&b, "%s %.0f%%\n", st.title("Completeness:"), a.Completeness*100)

	b.WriteString(st.title("Categories:") + "\n")
	for _, c := range a.Categories {
		if !c.Available {
			fmt.Fprintf(&b, "  %-18s %s\n", c.Category, st.muted("n/a"))
			continue
		}
		fmt.Fprintf(&b, "  %-18s %6.2f  weight %.2f  contribution %.2f\n",
			c.Category, c.Score, c.Weight, c.Contribution)
	}

	if len(a.Flags) > 0 {
		fmt.Fprintf(&b, "%s boost %.2f\n", st.title("Red flags:"), a.BoostTotal)
		for _, f := range a.Flags {
			fmt.Fprintf(&b, "  %-28s +%.2f  %s\n", f.ID, f.Boost, f.Description)
		}
	}
	if len(a.Skipped) > 0 {
		b.WriteString(st.title("Skipped rules:") + "\n")
		for _, s := range a.Skipped {
			fmt.Fprintf(&b, "  %-28s %s\n", s.ID, st.muted("missing "+strings.Join(s.Missing, ", ")))
		}
	}
	if len(a.Annotations) > 0 {
		b.WriteString(st.title("Notes:") + "\n")
		for _, n := range a.Annotations {
			fmt.Fprintf(&b, "  %s\n", n.String())
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
