package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/cuongbtq/jobstatus/internal/domain"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-name>",
	Short: "Show the current status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var sendCmd = &cobra.Command{
	Use:   "send <job-name> <message>",
	Short: "Append a status message to a job channel",
	Long: `Append a status message to a job channel, as a pipeline worker does.

The message is parsed against the status vocabulary and written in its
canonical form. Free text is kept as an unknown status.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var deleteChannelCmd = &cobra.Command{
	Use:   "delete-channel <job-name>",
	Short: "Delete the status channel of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteChannel,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(deleteChannelCmd)
}

type statusOutput struct {
	JobName  string `json:"job_name"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Updated  string `json:"updated"`
	Raw      string `json:"raw"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, validateBase)
	if err != nil {
		return err
	}
	defer s.Close()

	result := s.runtime.StatusReader(s.cfg).Read(cmd.Context(), args[0])
	out := statusOutput{
		JobName:  result.JobName,
		Code:     string(result.Status.Code),
		Status:   result.Label(),
		Progress: result.Progress,
		Updated:  result.Updated,
		Raw:      result.Raw,
	}

	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", out.JobName)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", out.Status)
	_, _ = fmt.Fprintf(w, "Code:\t%s\n", out.Code)
	_, _ = fmt.Fprintf(w, "Progress:\t%d%%\n", out.Progress)
	_, _ = fmt.Fprintf(w, "Updated:\t%s\n", out.Updated)
	return w.Flush()
}

func runSend(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, validateBase)
	if err != nil {
		return err
	}
	defer s.Close()

	status := domain.ParseStatus(args[1])
	if err := s.runtime.Channels.Send(cmd.Context(), args[0], status); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %q to %s\n", status.String(), args[0])
	return nil
}

func runDeleteChannel(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, validateBase)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.runtime.Channels.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted channel of %s\n", args[0])
	return nil
}
