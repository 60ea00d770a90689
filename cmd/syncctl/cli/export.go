package cli

import (
	"fmt"
	"strconv"

	"channelsync/internal/export"

	"github.com/spf13/cobra"
)

func newExportStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-status <integration-id>",
		Short: "Write the status history of an integration to an xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportStatus,
	}
	cmd.Flags().String("out", "statuses.xlsx", "Output file")
	cmd.Flags().Int("limit", 500, "Number of latest statuses")
	return cmd
}

func runExportStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integration id %q", args[0])
	}
	out, _ := cmd.Flags().GetString("out")
	limit, _ := cmd.Flags().GetInt("limit")

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := export.NewStatusExporter(a.DB).SaveAs(ctx, out, id, limit); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Statuses written to %s\n", out)
	return nil
}
