package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule <integration-id>",
		Short: "Enqueue a sync request for the worker",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchedule,
	}
	cmd.Flags().String("connector", "", "Sync a single connector")
	cmd.Flags().String("params", "", "Connector parameters as a JSON object")
	cmd.Flags().Int("batch-size", 0, "Remote page size")
	cmd.Flags().Bool("reverse", false, "Enqueue a reverse sync instead")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integration id %q", args[0])
	}
	connector, _ := cmd.Flags().GetString("connector")
	rawParams, _ := cmd.Flags().GetString("params")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	reverse, _ := cmd.Flags().GetBool("reverse")

	var params map[string]interface{}
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("params must be a JSON object: %w", err)
		}
	}

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	var messageID string
	if reverse {
		messageID, err = a.Dispatcher.ScheduleReverseSync(ctx, id, connector, params)
	} else {
		messageID, err = a.Dispatcher.ScheduleSync(ctx, id, connector, params, batchSize)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), messageID)
	return nil
}
