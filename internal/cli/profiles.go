package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/profile"
	"github.com/mbd888/tokenrisk/internal/signal"
)

func newProfilesCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect risk profiles",
	}

	load := func(cmd *cobra.Command) (*profile.Registry, error) {
		cfg, _, err := env.load(cmd)
		if err != nil {
			return nil, err
		}
		return profile.LoadDir(cfg.ProfileDir)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-16s %-6s %-10s %s\n", "NAME", "RULES", "MAX BOOST", "DESCRIPTION")
			for _, name := range reg.Names() {
				p, err := reg.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-16s %-6d %-10.0f %s\n", p.Name, len(p.Rules), p.MaxBoost, p.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a profile's weights, rules and tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := load(cmd)
			if err != nil {
				return err
			}
			p, err := reg.Get(args[0])
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(reg.Names(), ", "))
			}
			return writeProfile(cmd.OutOrStdout(), p)
		},
	})
	return cmd
}

func writeProfile(w io.Writer, p *profile.Profile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile:         %s\n", p.Name)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description:     %s\n", p.Description)
	}
	fmt.Fprintf(&b, "Max boost:       %.2f\n", p.MaxBoost)
	fmt.Fprintf(&b, "Min confidence:  %.2f\n", p.MinConfidence)

	b.WriteString("\nWeights:\n")
	for _, c := range signal.Categories() {
		fmt.Fprintf(&b, "  %-20s %.2f\n", c, p.Weight(c))
	}

	b.WriteString("\nRules:\n")
	for _, r := range p.Rules {
		fmt.Fprintf(&b, "  %-28s +%-6.2f %s\n", r.ID, r.Boost, r.Description)
	}

	b.WriteString("\nTiers:\n")
	for _, band := range p.Bands {
		fmt.Fprintf(&b, "  %-10s >= %.0f\n", band.Name, band.Min)
	}

	if len(p.WellKnown) > 0 {
		b.WriteString("\nWell-known tokens:\n")
		chains := make([]string, 0, len(p.WellKnown))
		for c := range p.WellKnown {
			chains = append(chains, c)
		}
		sort.Strings(chains)
		for _, c := range chains {
			for _, t := range p.WellKnown[c] {
				fmt.Fprintf(&b, "  %-10s %s\n", c, t)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
