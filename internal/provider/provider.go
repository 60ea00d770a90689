// Package provider registers the built-in channel, connector and transport
// types.
package provider

import (
	"fmt"

	"channelsync/internal/registry"
	"channelsync/internal/transport/rest"
	"channelsync/internal/transport/sheets"
)

// Channel type tags.
const (
	ChannelCRM         = "crm"
	ChannelSpreadsheet = "spreadsheet"
)

// Connector names.
const (
	ConnectorCustomers = "customers"
	ConnectorOrders    = "orders"
	ConnectorRows      = "rows"
)

type channel struct {
	name  string
	label string
}

func (c channel) Name() string  { return c.name }
func (c channel) Label() string { return c.label }

// Options tunes the registered transports.
type Options struct {
	REST []rest.Option
}

// Register adds every built-in type to reg.
func Register(reg *registry.Registry, opts Options) error {
	steps := []func() error{
		func() error { return reg.RegisterChannelType(ChannelCRM, channel{ChannelCRM, "CRM"}) },
		func() error {
			return reg.RegisterChannelType(ChannelSpreadsheet, channel{ChannelSpreadsheet, "Spreadsheet"})
		},
		func() error { return reg.RegisterTransportType(rest.TypeName, ChannelCRM, rest.NewType(opts.REST...)) },
		func() error { return reg.RegisterTransportType(sheets.TypeName, ChannelSpreadsheet, sheets.NewType()) },
		func() error { return reg.RegisterConnectorType(ConnectorCustomers, ChannelCRM, NewCustomersConnector()) },
		func() error { return reg.RegisterConnectorType(ConnectorOrders, ChannelCRM, NewOrdersConnector()) },
		func() error { return reg.RegisterConnectorType(ConnectorRows, ChannelSpreadsheet, NewRowsConnector()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("register provider types: %w", err)
		}
	}
	return nil
}

func jobName(channel, connector string, validation bool) string {
	if validation {
		return channel + "_" + connector + "_import_validation"
	}
	return channel + "_" + connector + "_import"
}
