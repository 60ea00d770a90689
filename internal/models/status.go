package models

import "time"

// Status is an append-only outcome record of one connector run.
type Status struct {
	ID            int64     `json:"id"`
	IntegrationID int64     `json:"integration_id"`
	Connector     string    `json:"connector"`
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Data          string    `json:"data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
