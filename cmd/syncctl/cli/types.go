package cli

import (
	"fmt"
	"strings"

	"channelsync/internal/provider"
	"channelsync/internal/registry"

	"github.com/spf13/cobra"
)

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered integration types with their connectors and transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := registry.New()
			if err := provider.Register(reg, provider.Options{}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tag := range reg.ChannelTypes() {
				channel, err := reg.ChannelType(tag)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (%s)\n", tag, channel.Label())
				for _, name := range reg.ConnectorTypes(tag) {
					connector, err := reg.ConnectorType(tag, name)
					if err != nil {
						return err
					}
					direction := "one-way"
					if _, ok := registry.IsTwoWay(connector); ok {
						direction = "two-way"
					}
					fmt.Fprintf(out, "  connector %s: %s, entity %s, %s\n", name, connector.Label(), connector.ImportEntity(), direction)
				}
				fmt.Fprintf(out, "  transports: %s\n", strings.Join(reg.TransportTypes(tag), ", "))
			}
			return nil
		},
	}
}
