package cmd

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var scenarioCmd = &cobra.Command{
	Use:     "scenario",
	Short:   "Edits scenario files in place, keeping keys routesim does not know about",
	GroupID: "cfg",
}

func prefixArg(args []string) (netip.Prefix, error) {
	s := state.DefaultScenarioPrefix
	if len(args) >= 2 {
		s = args[1]
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return p, &state.ParseError{Source: "arguments", Reason: fmt.Sprintf("invalid prefix %q", s)}
	}
	return p, nil
}

// editScenario loads path, applies fn and writes it back.
func editScenario(path string, fn func(sc *state.Scenario) error) error {
	sc, err := loadScenario(path)
	if err != nil {
		return err
	}
	if err := fn(sc); err != nil {
		return err
	}
	return state.StoreScenario(path, sc)
}

var setPrefixCmd = &cobra.Command{
	Use:          "set-prefix <file> [cidr]",
	Short:        "Sets the prefix of interest, forwarding state output and manual stepping",
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := prefixArg(args)
		if err != nil {
			return err
		}
		cmd.Printf("set prefix of %s to %s\n", args[0], p)
		return editScenario(args[0], func(sc *state.Scenario) error {
			sc.SetPrefix(p)
			return nil
		})
	},
}

var featuresCmd = &cobra.Command{
	Use:          "features <file> [cidr]",
	Short:        "Like set-prefix, and switches to the plain bgp feature preset",
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := prefixArg(args)
		if err != nil {
			return err
		}
		cmd.Printf("set prefix of %s to %s with the bgp feature preset\n", args[0], p)
		return editScenario(args[0], func(sc *state.Scenario) error {
			sc.SetPrefix(p)
			sc.Settings.Features.SimplePreset()
			return nil
		})
	},
}

var copyPosCmd = &cobra.Command{
	Use:          "copy-pos <to> [from]",
	Short:        "Copies node positions from another scenario, pos.json by default",
	Args:         cobra.RangeArgs(1, 2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		from := "pos.json"
		if len(args) >= 2 {
			from = args[1]
		}
		src, err := loadScenario(from)
		if err != nil {
			return err
		}
		cmd.Printf("copy position from %s to %s\n", from, args[0])
		return editScenario(args[0], func(sc *state.Scenario) error {
			sc.CopyPos(src)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(setPrefixCmd, featuresCmd, copyPosCmd)
}
