// Package job runs connector import jobs: a paged reader feeds a processor
// whose output is written to local storage in batches.
package job

import (
	"context"
	"encoding/json"
	"time"

	"channelsync/internal/models"
)

type Mode string

const (
	ModeImport           Mode = "import"
	ModeImportValidation Mode = "import_validation"
)

// Item is one row read from the remote system.
type Item struct {
	ExternalID string
	Payload    json.RawMessage
	Deleted    bool
}

// Reader pages through the remote system. An empty page means the end.
type Reader interface {
	Read(ctx context.Context) ([]Item, error)
}

// RecordStore is the local side of an import.
type RecordStore interface {
	GetRecord(ctx context.Context, integrationID int64, entity, externalID string) (*models.Record, error)
	SaveRecords(ctx context.Context, records []models.Record) error
}

// Config is everything one job execution needs.
type Config struct {
	IntegrationID  int64
	Entity         string
	ProcessorAlias string
	Reader         Reader
	Store          RecordStore
	BatchSize      int
	// MaxEmptyRanges is accepted for compatibility and not consumed.
	MaxEmptyRanges int
}

type Counts struct {
	Read         int `json:"read"`
	Add          int `json:"add"`
	Update       int `json:"update"`
	Replace      int `json:"replace"`
	Delete       int `json:"delete"`
	Skip         int `json:"skip"`
	ErrorEntries int `json:"error_entries"`
}

// Result is produced fresh per execution and not modified after ExecuteJob returns.
type Result struct {
	JobName    string
	Mode       Mode
	Successful bool
	Counts     Counts
	// Failures are job-level exceptions (reader, writer, processor resolution).
	Failures []string
	// ContextErrors are per-row processing errors, in order of occurrence.
	ContextErrors []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
