package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"channelsync/internal/orchestrator"
	"channelsync/internal/queue"

	"github.com/spf13/cobra"
)

func newReverseSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse-sync",
		Short: "Push local records back to the remote channel",
		Long: `Run a reverse sync in this process under the integration's job lock.
Without --connector every two-way connector of the integration runs.`,
		Args: cobra.NoArgs,
		RunE: runReverseSync,
	}
	cmd.Flags().Int64("integration", 0, "Integration id")
	cmd.Flags().String("connector", "", "Two-way connector name")
	cmd.Flags().String("params", "", `Connector parameters as a JSON object, e.g. {"ids":["1","2"]}`)
	_ = cmd.MarkFlagRequired("integration")
	return cmd
}

func runReverseSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	id, err := cmd.Flags().GetInt64("integration")
	if err != nil {
		return fmt.Errorf("failed to get integration flag: %w", err)
	}
	connector, err := cmd.Flags().GetString("connector")
	if err != nil {
		return fmt.Errorf("failed to get connector flag: %w", err)
	}
	rawParams, err := cmd.Flags().GetString("params")
	if err != nil {
		return fmt.Errorf("failed to get params flag: %w", err)
	}

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

	integration, err := a.DB.GetIntegration(ctx, id)
	if err != nil {
		return fmt.Errorf("integration %d: %w", id, err)
	}
	if !integration.Enabled {
		return fmt.Errorf("%w: %s", orchestrator.ErrIntegrationDisabled, integration.Name)
	}

	body, err := json.Marshal(orchestrator.ReverseSyncRequest{
		IntegrationID:       orchestrator.IntegrationID(id),
		Connector:           connector,
		ConnectorParameters: params,
	})
	if err != nil {
		return err
	}
	msg := &queue.Message{
		ID:            a.OwnerID,
		Topic:         queue.TopicReverseSyncRequested,
		IntegrationID: id,
		Body:          body,
	}

	status, err := orchestrator.NewReverseSyncHandler(a.Deps, a.Guard, a.Reverse).Handle(ctx, msg)
	switch {
	case err != nil:
		return err
	case status == queue.Requeue:
		return fmt.Errorf("reverse sync of %q is already running", integration.Name)
	case status != queue.Ack:
		return errors.New("reverse sync failed, see status history")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reverse sync of %s completed\n", integration.Name)
	return nil
}
