package orchestrator

import (
	"sync"

	"channelsync/internal/models"

	"github.com/rs/zerolog"
)

// Reporter receives per-connector outcomes of a one-way run, in connector order.
type Reporter interface {
	ReportResult(integration *models.Integration, result *Result)
	ReportSkip(integration *models.Integration, connector string, err error)
}

// LogReporter writes outcomes to a zerolog logger.
type LogReporter struct {
	logger *zerolog.Logger
}

func NewLogReporter(logger *zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) ReportResult(integration *models.Integration, result *Result) {
	event := r.logger.Info()
	if !result.Success {
		event = r.logger.Warn()
	}
	event.
		Int64("integration_id", integration.ID).
		Str("integration", integration.Name).
		Str("connector", result.Connector).
		Str("mode", string(result.Mode)).
		Int("read", result.Counts.Read).
		Int("process", result.Counts.Process).
		Int("updated", result.Counts.Update).
		Int("added", result.Counts.Add).
		Int("deleted", result.Counts.Delete).
		Int("errors", result.Counts.Errors).
		Strs("error_details", result.Errors).
		Msg(result.Message)
}

func (r *LogReporter) ReportSkip(integration *models.Integration, connector string, err error) {
	r.logger.Error().Err(err).
		Int64("integration_id", integration.ID).
		Str("integration", integration.Name).
		Str("connector", connector).
		Msg("Connector skipped")
}

// Skip is a connector that could not run.
type Skip struct {
	Connector string `json:"connector"`
	Error     string `json:"error"`
}

// Summary is the aggregated outcome of one orchestrated run.
type Summary struct {
	IntegrationID   int64     `json:"integration_id"`
	IntegrationName string    `json:"integration_name"`
	Results         []*Result `json:"results"`
	Skipped         []Skip    `json:"skipped,omitempty"`
}

// Success reports whether every connector ran and succeeded.
func (s *Summary) Success() bool {
	if len(s.Skipped) > 0 {
		return false
	}
	for _, r := range s.Results {
		if !r.Success {
			return false
		}
	}
	return true
}

// CollectingReporter gathers outcomes into a Summary and forwards them to Next.
type CollectingReporter struct {
	Next Reporter

	mu      sync.Mutex
	summary Summary
}

func (r *CollectingReporter) ReportResult(integration *models.Integration, result *Result) {
	r.mu.Lock()
	r.summary.IntegrationID = integration.ID
	r.summary.IntegrationName = integration.Name
	r.summary.Results = append(r.summary.Results, result)
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.ReportResult(integration, result)
	}
}

func (r *CollectingReporter) ReportSkip(integration *models.Integration, connector string, err error) {
	r.mu.Lock()
	r.summary.IntegrationID = integration.ID
	r.summary.IntegrationName = integration.Name
	r.summary.Skipped = append(r.summary.Skipped, Skip{Connector: connector, Error: err.Error()})
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.ReportSkip(integration, connector, err)
	}
}

func (r *CollectingReporter) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.summary
	out.Results = append([]*Result(nil), r.summary.Results...)
	out.Skipped = append([]Skip(nil), r.summary.Skipped...)
	return &out
}
