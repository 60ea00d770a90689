// Package cli implements the syncctl operator commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"channelsync/internal/app"
	"channelsync/internal/config"
	"channelsync/internal/logging"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

// NewRootCmd builds the syncctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "syncctl",
		Short:        "Operate channel integrations",
		Long:         `syncctl runs, schedules and inspects synchronizations between local records and remote channels.`,
		SilenceUsage: true,
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	root.PersistentFlags().String("config", configPath, "Path to the YAML config")

	root.AddCommand(
		newSyncCmd(),
		newReverseSyncCmd(),
		newScheduleCmd(),
		newExportStatusCmd(),
		newTypesCmd(),
		newQueueCmd(),
		newIntegrationsCmd(),
	)
	return root
}

// bootstrap loads the config and wires the application. The returned func
// releases everything bootstrap opened.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app.App, func(), error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	a, err := app.New(ctx, cfg, logging.Component(logger, "syncctl"))
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
		}
		if closer != nil {
			_ = closer.Close()
		}
	}, nil
}
