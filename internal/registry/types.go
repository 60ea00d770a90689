package registry

import (
	"context"
	"time"

	"channelsync/internal/job"
	"channelsync/internal/models"
)

// ChannelType describes an integration type tag such as "rest" or "sheets".
type ChannelType interface {
	Name() string
	Label() string
}

// ReaderOptions narrows what a connector reads from the remote system.
type ReaderOptions struct {
	// BatchSize is the remote page size.
	BatchSize int
	// Since is the transport's last sync date, nil on the first run.
	Since *time.Time
	// Params are per-request connector parameters.
	Params map[string]string
}

// ConnectorType is a one-way import capability of an integration type.
type ConnectorType interface {
	Name() string
	Label() string
	// ImportEntity names the local entity the connector imports into.
	ImportEntity() string
	// ImportJobName returns the job name for import or import validation.
	ImportJobName(validation bool) string
	NewReader(ctx context.Context, transport Transport, settings models.Settings, opts ReaderOptions) (job.Reader, error)
}

// ExportResult summarizes a reverse sync.
type ExportResult struct {
	Exported int      `json:"exported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// TwoWayConnectorType can also push local records back to the remote system.
type TwoWayConnectorType interface {
	ConnectorType
	Export(ctx context.Context, transport Transport, settings models.Settings, records []models.Record, params map[string]interface{}) (*ExportResult, error)
}

// TransportType builds transports for the settings it recognizes.
type TransportType interface {
	Name() string
	Label() string
	New() Transport
	SupportsSettings(settings *models.Transport) bool
}

// Transport is a live connection to a remote system. Call returns a raw JSON body.
type Transport interface {
	Init(ctx context.Context, settings models.Settings) (bool, error)
	Call(ctx context.Context, action string, params map[string]interface{}) ([]byte, error)
}

// IsTwoWay reports whether the connector supports reverse sync.
func IsTwoWay(connector ConnectorType) (TwoWayConnectorType, bool) {
	twoWay, ok := connector.(TwoWayConnectorType)
	return twoWay, ok
}
