package cmd

import (
	"log/slog"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var simOpts = struct {
	topology   string
	feed       string
	script     string
	repeat     int
	maxTicks   uint64
	delay      uint64
	verbose    bool
	logFile    string
	metricsOut string
	debugAddr  string
}{}

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:     "simulate",
	Aliases: []string{"run"},
	Short:   "Run a scenario until it converges",
	Long: `Loads a scenario, injects its feed (or a script, or lines from stdin with --feed live) and
processes events until the network converges or the tick bound is reached.

Exit codes: 0 on convergence, 1 when the tick bound is exceeded, 2 on malformed topology or feed input.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if simOpts.verbose {
			level = slog.LevelDebug
		}
		run, err := core.Start(cmd.Context(), core.Options{
			ScenarioPath: simOpts.topology,
			Feed:         core.FeedMode(simOpts.feed),
			ScriptPath:   simOpts.script,
			Repeat:       simOpts.repeat,
			MaxTicks:     state.Tick(simOpts.maxTicks),
			Delay:        state.Tick(simOpts.delay),
			LogLevel:     level,
			LogPath:      simOpts.logFile,
			MetricsOut:   simOpts.metricsOut,
			DebugAddr:    simOpts.debugAddr,
			Input:        cmd.InOrStdin(),
			Output:       cmd.OutOrStdout(),
			LogOutput:    cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		cmd.PrintErrln(run.Result.String())
		return runError(run)
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simOpts.topology, "topology", "t", "", "scenario file (json or yaml)")
	simulateCmd.Flags().StringVarP(&simOpts.feed, "feed", "f", string(core.FeedScripted), "feed mode, scripted or live")
	simulateCmd.Flags().StringVarP(&simOpts.script, "script", "s", "", "mock peer script replacing the scenario feed")
	simulateCmd.Flags().IntVarP(&simOpts.repeat, "repeat", "r", 1, "number of times the scripted feed is played")
	simulateCmd.Flags().Uint64Var(&simOpts.maxTicks, "max-ticks", 0, "tick bound, overrides the scenario setting")
	simulateCmd.Flags().Uint64Var(&simOpts.delay, "delay", 0, "propagation delay in ticks, overrides the scenario setting")
	simulateCmd.Flags().BoolVarP(&simOpts.verbose, "verbose", "v", false, "Verbose output")
	simulateCmd.Flags().StringVar(&simOpts.logFile, "log-file", "", "also write logs to this file")
	simulateCmd.Flags().StringVar(&simOpts.metricsOut, "metrics-out", "", "write prometheus metrics to this file when done")
	simulateCmd.Flags().StringVar(&simOpts.debugAddr, "debug-addr", "", "serve /debug/metrics and expvar on this address")
	_ = simulateCmd.MarkFlagRequired("topology")
}
