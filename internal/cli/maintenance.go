package cli

import (
	"fmt"

	"github.com/cuongbtq/jobstatus/internal/bootstrap"
	"github.com/cuongbtq/jobstatus/internal/config"
	"github.com/cuongbtq/jobstatus/internal/jobstatus"
	"github.com/cuongbtq/jobstatus/internal/notifier"
	"github.com/spf13/cobra"
)

var notifyOnceCmd = &cobra.Command{
	Use:   "notify-once",
	Short: "Run a single notification cycle",
	Long: `Check every job created within the notifier window once and email
the owners of jobs that reached a terminal status.`,
	Args: cobra.NoArgs,
	RunE: runNotifyOnce,
}

var sweepTrashCmd = &cobra.Command{
	Use:   "sweep-trash <user>",
	Short: "Evict a user's trashed jobs past retention",
	Args:  cobra.ExactArgs(1),
	RunE:  runSweepTrash,
}

func init() {
	rootCmd.AddCommand(notifyOnceCmd)
	rootCmd.AddCommand(sweepTrashCmd)
}

func runNotifyOnce(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, func(cfg *config.Config) error { return cfg.ValidateNotifier() })
	if err != nil {
		return err
	}
	defer s.Close()

	sender, closeSender, err := bootstrap.InitMailSender(s.cfg, s.log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeSender() }()

	n := notifier.New(&notifier.Config{
		Logger:         s.log.Logger,
		Index:          s.runtime.Index,
		Channels:       s.runtime.Channels,
		Mailer:         sender,
		Window:         s.cfg.Notifier.Window,
		Concurrency:    s.cfg.Notifier.Concurrency,
		ReadTimeout:    jobstatus.ReadTimeoutFor(s.runtime.Channels.ReceiveWait()),
		ReadsPerSecond: s.cfg.Notifier.ReadsPerSecond,
	})

	summary, err := n.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), summary)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"Jobs: %d  Notified: %d  Duplicate: %d  Noop: %d  Skipped: %d  No address: %d  Failed: %d  (%s)\n",
		summary.Jobs, summary.Notified, summary.Duplicate, summary.Noop,
		summary.Skipped, summary.NoAddress, summary.Failed, summary.Duration,
	)
	return nil
}

func runSweepTrash(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, validateBase)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.runtime.TrashPolicy(s.cfg).Sweep(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), summary)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"Evaluated: %d  Normalized: %d  Evicted: %d  Retained: %d\n",
		summary.Evaluated, summary.Normalized, summary.Evicted, summary.Retained,
	)
	return nil
}
