package models

import "time"

// Record is the local copy of one remote entity imported by a connector.
type Record struct {
	ID            int64     `json:"id"`
	IntegrationID int64     `json:"integration_id"`
	Entity        string    `json:"entity"`
	ExternalID    string    `json:"external_id"`
	Payload       string    `json:"payload"`
	Checksum      string    `json:"checksum"`
	Deleted       bool      `json:"deleted"`
	UpdatedAt     time.Time `json:"updated_at"`
}
