// Package cmd is the command line front end of the analyst.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/multiagent-analyst/pkg/config"
	logx "github.com/tanpawarit/multiagent-analyst/pkg/logger"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

var (
	envFile   string
	sessionID string

	shutdownTracer = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Multi-agent data analysis assistant",
	Long: `analyst answers questions about tabular data by chaining specialized agents:
data analysis, visualization, presentation and answer synthesis.

Attach a CSV with --dataset (or /load inside chat); follow-up questions in the
same session reuse the last analyzed dataset.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configx.SetEnvFile(envFile)

		logCfg, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return fmt.Errorf("load log config: %w", err)
		}
		logx.Init(*logCfg)

		traceCfg, err := configx.New[tracerx.Config]("TRACE")
		if err != nil {
			return fmt.Errorf("load trace config: %w", err)
		}
		shutdown, err := tracerx.Setup(cmd.Context(), *traceCfg)
		if err != nil {
			return err
		}
		shutdownTracer = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to an env file (defaults to ENV_FILE, then ./.env)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(doctorCmd)
}
