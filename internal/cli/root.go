// Package cli implements the jobctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cuongbtq/jobstatus/internal/bootstrap"
	"github.com/cuongbtq/jobstatus/internal/config"
	"github.com/cuongbtq/jobstatus/shared/logger"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/jobctl/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Operate job status channels, notifications and trash",
	Long: `jobctl runs one-off operations against the job index and the job
status channels using the same configuration as the services.

Examples:
  # Read the current status of a job
  jobctl status liver-atlas-2024-05-01-12-30-45

  # Report progress the way a pipeline worker does
  jobctl send liver-atlas-2024-05-01-12-30-45 "Running: Aligning reads"

  # Run a single notification cycle
  jobctl notify-once --config configs/notifier-service/config.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (default $JOBCTL_CONFIG_PATH or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// session is the per-command runtime
type session struct {
	cfg     *config.Config
	log     *logger.Logger
	runtime *bootstrap.Runtime
}

func (s *session) Close() {
	if s.runtime != nil {
		_ = s.runtime.Close()
	}
	_ = s.log.Close()
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("JOBCTL_CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// openSession loads the configuration, checks it with validate and opens
// the backends.
func openSession(cmd *cobra.Command, validate func(*config.Config) error) (*session, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// command output owns stdout
	logging := cfg.Logging
	if logging.Output == "" || logging.Output == "stdout" {
		logging.Output = "stderr"
	}
	log, err := bootstrap.InitLogger(&logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt, err := bootstrap.Open(cmd.Context(), cfg, log.Logger)
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}
	return &session{cfg: cfg, log: log, runtime: rt}, nil
}

func validateBase(cfg *config.Config) error { return cfg.Validate() }

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
