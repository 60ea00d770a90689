package cli

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"channelsync/internal/models"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the message queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count messages by status",
		Args:  cobra.NoArgs,
		RunE:  runQueueStats,
	})
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List failed messages",
		Args:  cobra.NoArgs,
		RunE:  runQueueFailed,
	}
	failed.Flags().Int64("limit", 50, "Dead letters to read from redis")
	cmd.AddCommand(failed)
	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Print one queued message with its payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueueShow,
	})
	return cmd
}

func runQueueStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := a.DB.SyncQueueStats(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", k, stats[k])
	}
	return nil
}

func runQueueFailed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt64("limit")

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := a.DB.GetFailedSyncTasks(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGE\tTOPIC\tINTEGRATION\tRETRIES\tCREATED\tERROR")
	for _, t := range tasks {
		printTask(w, t)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if a.Redis == nil {
		return nil
	}
	dead, err := a.Queue.DeadLetters(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nDead letters in redis: %d\n", len(dead))
	for _, t := range dead {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s integration=%d\n", t.MessageID, t.Topic, t.IntegrationID)
	}
	return nil
}

func printTask(w *tabwriter.Writer, t models.SyncTask) {
	lastErr := ""
	if t.LastError != nil {
		lastErr = *t.LastError
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n", t.ID, t.MessageID, t.Topic, t.IntegrationID, t.RetryCount, t.CreatedAt.Format(time.RFC3339), lastErr)
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q", args[0])
	}

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := a.DB.GetSyncTask(ctx, id)
	if err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id: %d\nmessage: %s\ntopic: %s\nintegration: %d\nstatus: %s\nretries: %d\n",
		task.ID, task.MessageID, task.Topic, task.IntegrationID, task.Status, task.RetryCount)
	fmt.Fprintf(out, "created: %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.NextRetryAt != nil {
		fmt.Fprintf(out, "next: %s\n", task.NextRetryAt.Format(time.RFC3339))
	}
	if task.ProcessedAt != nil {
		fmt.Fprintf(out, "processed: %s\n", task.ProcessedAt.Format(time.RFC3339))
	}
	if task.LastError != nil {
		fmt.Fprintf(out, "error: %s\n", *task.LastError)
	}
	fmt.Fprintf(out, "payload: %s\n", task.Payload)
	return nil
}
