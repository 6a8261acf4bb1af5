package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <scenario>",
	Aliases: []string{"i"},
	Short:   "Prints the topology, sessions and resolved settings of a scenario",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, topo, cfg, err := core.LoadSimulation(args[0])
		if err != nil {
			return err
		}
		return describe(cmd.OutOrStdout(), topo, cfg)
	},
	SilenceUsage: true,
	GroupID:      "sim",
}

func describe(w io.Writer, topo *state.Topology, cfg state.SimulationConfig) error {
	sb := strings.Builder{}
	prefix := "(none)"
	if cfg.Prefix.IsValid() {
		prefix = cfg.Prefix.String()
	}
	sb.WriteString(fmt.Sprintf("prefix %s, layer %s, policy %s, delay %d, max ticks %d\n",
		prefix, cfg.Layer, cfg.ExportPolicy, cfg.PropagationDelay, cfg.MaxTicks))
	f := cfg.Features
	sb.WriteString(fmt.Sprintf("features: load_balancing=%t ospf=%t bgp=%t specification=%t static_routes=%t simple=%t\n",
		f.LoadBalancing, f.Ospf, f.Bgp, f.Specification, f.StaticRoutes, f.Simple))
	for _, id := range topo.NodeIds() {
		n := topo.Node(id)
		sb.WriteString(fmt.Sprintf("%s (as%d)\n", id, n.ASN))
		if len(n.Originated) > 0 {
			sb.WriteString(fmt.Sprintf("\toriginates %v\n", state.CoalescePrefix(n.Originated)))
		}
		remotes := make([]state.NodeId, 0, len(n.Sessions))
		for remote := range n.Sessions {
			remotes = append(remotes, remote)
		}
		slices.Sort(remotes)
		for _, remote := range remotes {
			sess := n.Sessions[remote]
			if sess.External {
				sb.WriteString(fmt.Sprintf("\t%s %s (external %s)\n", sess.Relation, remote, sess.Address))
			} else {
				sb.WriteString(fmt.Sprintf("\t%s %s\n", sess.Relation, remote))
			}
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
