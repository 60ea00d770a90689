package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newIntegrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Inspect stored integrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored integrations",
		Args:  cobra.NoArgs,
		RunE:  runIntegrationsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "records <integration-name> <entity>",
		Short: "Count the live local records of an entity",
		Args:  cobra.ExactArgs(2),
		RunE:  runIntegrationsRecords,
	})
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Disable stored integrations missing from the config",
		Long: `Seeding only upserts the configured integrations, so one removed from the
config stays in the database. prune disables those; with --delete it removes
them together with their statuses and records.`,
		Args: cobra.NoArgs,
		RunE: runIntegrationsPrune,
	}
	prune.Flags().Bool("delete", false, "Delete instead of disabling")
	cmd.AddCommand(prune)
	return cmd
}

func runIntegrationsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	integrations, err := a.DB.ListIntegrations(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tENABLED\tCONNECTORS")
	for _, i := range integrations {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", i.ID, i.Name, i.Type, i.Enabled, strings.Join(i.Connectors, ","))
	}
	return w.Flush()
}

func runIntegrationsRecords(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	integration, err := a.Processor.Lookup(ctx, args[0])
	if err != nil {
		return err
	}
	n, err := a.DB.CountRecords(ctx, integration.ID, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d\n", integration.Name, args[1], n)
	return nil
}

func runIntegrationsPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	remove, err := cmd.Flags().GetBool("delete")
	if err != nil {
		return fmt.Errorf("failed to get delete flag: %w", err)
	}

	a, cleanup, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	configured := make(map[string]bool, len(a.Config.Integrations))
	for _, i := range a.Config.Integrations {
		configured[i.Name] = true
	}
	stored, err := a.DB.ListIntegrations(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, i := range stored {
		if configured[i.Name] {
			continue
		}
		switch {
		case remove:
			if err := a.DB.DeleteIntegration(ctx, i.ID); err != nil {
				return fmt.Errorf("integration %q: %w", i.Name, err)
			}
			fmt.Fprintf(out, "deleted %s (%d)\n", i.Name, i.ID)
		case i.Enabled:
			if err := a.DB.SetIntegrationEnabled(ctx, i.ID, false); err != nil {
				return fmt.Errorf("integration %q: %w", i.Name, err)
			}
			fmt.Fprintf(out, "disabled %s (%d)\n", i.Name, i.ID)
		}
	}
	return nil
}
