package models

import "time"

// Integration is a configured connection to an external system.
type Integration struct {
	ID         int64      `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Type       string     `json:"type" yaml:"type"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	Connectors []string   `json:"connectors" yaml:"connectors"`
	Transport  *Transport `json:"transport,omitempty" yaml:"transport"`
	CreatedAt  time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"-"`
}

// Transport holds how to reach the remote system. Owned by one integration.
type Transport struct {
	ID            int64      `json:"id" yaml:"-"`
	IntegrationID int64      `json:"integration_id" yaml:"-"`
	Type          string     `json:"type" yaml:"type"`
	Settings      Settings   `json:"settings" yaml:"settings"`
	LastSyncDate  *time.Time `json:"last_sync_date" yaml:"-"`
}

// HasConnector reports whether name is among the configured connectors.
func (i *Integration) HasConnector(name string) bool {
	for _, c := range i.Connectors {
		if c == name {
			return true
		}
	}
	return false
}
