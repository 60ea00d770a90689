package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"channelsync/internal/models"
	"channelsync/internal/orchestrator"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <integration-name>",
		Short: "Run a one-way sync of an integration",
		Long: `Run every configured connector of the integration in order.
Without --run the connectors are validated only and nothing is persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}
	cmd.Flags().Bool("run", false, "Persist imported records")
	cmd.Flags().String("connector", "", "Run a single connector")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, err := cmd.Flags().GetBool("run")
	if err != nil {
		return fmt.Errorf("failed to get run flag: %w", err)
	}
	connector, err := cmd.Flags().GetString("connector")
	if err != nil {
		return fmt.Errorf("failed to get connector flag: %w", err)
	}

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := &statsReporter{out: cmd.OutOrStdout()}
	opts := orchestrator.RunOptions{Connector: connector, Reporter: reporter}

	// Validation never writes, so only real runs take the job lock.
	if !run {
		return checkSummary(a.Processor.Process(ctx, args[0], false, opts))
	}

	integration, err := a.Processor.Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	var summary *orchestrator.Summary
	_, err = a.Guard.RunUnique(ctx, a.OwnerID, orchestrator.SyncJobName(integration.ID), func(ctx context.Context) (bool, error) {
		s, err := a.Processor.ProcessIntegration(ctx, integration, true, opts)
		if err != nil {
			return false, err
		}
		summary = s
		return s.Success(), nil
	})
	return checkSummary(summary, err)
}

func checkSummary(summary *orchestrator.Summary, err error) error {
	if err != nil {
		return err
	}
	if !summary.Success() {
		return errors.New("sync finished with errors")
	}
	return nil
}

// statsReporter prints per-connector outcomes in the operator format.
type statsReporter struct {
	out io.Writer
}

func (r *statsReporter) ReportResult(integration *models.Integration, result *orchestrator.Result) {
	fmt.Fprintf(r.out, "%s / %s [%s]: %s\n", integration.Name, result.Connector, result.Mode, result.Message)
	c := result.Counts
	fmt.Fprintf(r.out, "Stats: read [%d], process [%d], updated [%d], added [%d], delete [%d]\n",
		c.Read, c.Process, c.Update, c.Add, c.Delete)
	for _, e := range result.Errors {
		fmt.Fprintf(r.out, "  error: %s\n", e)
	}
}

func (r *statsReporter) ReportSkip(integration *models.Integration, connector string, err error) {
	fmt.Fprintf(r.out, "%s / %s: skipped: %v\n", integration.Name, connector, err)
}
