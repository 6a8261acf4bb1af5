package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/encodeous/routesim/protocol"
	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var peerOpts = struct {
	script string
	tick   time.Duration
	repeat int
}{}

// peerCmd replays a script in real time, for piping into a live simulation
var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Acts as a mock BGP peer, writing a script's commands to stdout in real time",
	Example: `  routesim peer --script peer.txt --tick 500ms | routesim simulate -t lab.json --feed live`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(peerOpts.script)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		entries, errs, err := protocol.ParseScript(filepath.Base(peerOpts.script), f)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			return &exitError{code: exitInput, err: errors.Join(errs...)}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err = protocol.Replay(ctx, cmd.OutOrStdout(), entries, peerOpts.tick, peerOpts.repeat)
		if err != nil && ctx.Err() != nil {
			// interrupted
			return nil
		}
		return err
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(peerCmd)

	peerCmd.Flags().StringVarP(&peerOpts.script, "script", "s", "", "script to replay")
	peerCmd.Flags().DurationVar(&peerOpts.tick, "tick", state.PeerTickDuration, "wall clock length of one tick")
	peerCmd.Flags().IntVarP(&peerOpts.repeat, "repeat", "r", 1, "number of times the script is played")
	_ = peerCmd.MarkFlagRequired("script")
}
