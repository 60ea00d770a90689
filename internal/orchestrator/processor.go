// Package orchestrator runs one-way and reverse synchronizations of
// integrations and handles the queue messages that request them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"channelsync/internal/database"
	"channelsync/internal/events"
	"channelsync/internal/job"
	"channelsync/internal/metrics"
	"channelsync/internal/models"
	"channelsync/internal/registry"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Store is the persistent state the orchestrators read and write.
type Store interface {
	job.RecordStore
	GetIntegration(ctx context.Context, id int64) (*models.Integration, error)
	GetIntegrationByName(ctx context.Context, name string) (*models.Integration, error)
	UpdateLastSyncDate(ctx context.Context, integrationID int64, at time.Time) error
	AddStatus(ctx context.Context, status *models.Status) error
	ListRecords(ctx context.Context, integrationID int64, entity string, externalIDs []string) ([]models.Record, error)
}

// JobRunner executes one connector job.
type JobRunner interface {
	ExecuteJob(ctx context.Context, mode job.Mode, jobName string, cfg job.Config) *job.Result
}

// ProcessorResolver lists import processor aliases for an entity.
type ProcessorResolver interface {
	ProcessorAliasesByEntity(entity string) []string
}

// Deps are the collaborators shared by the orchestrators and handlers.
type Deps struct {
	Store      Store
	Registry   *registry.Registry
	Runner     JobRunner
	Processors ProcessorResolver
	Events     *events.EventBus
	Logger     *zerolog.Logger
}

// RunOptions narrow a one-way run.
type RunOptions struct {
	// Connector restricts the run to one configured connector.
	Connector string
	// Params are passed to every connector reader.
	Params map[string]string
	// TransportBatchSize is the remote page size.
	TransportBatchSize int
	Reporter           Reporter
}

// Processor is the one-way orchestrator.
type Processor struct {
	deps   Deps
	logger *zerolog.Logger
	now    func() time.Time
}

func NewProcessor(deps Deps) *Processor {
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &Processor{deps: deps, logger: deps.Logger, now: time.Now}
}

// Process runs every configured connector of the named integration. With
// force unset the jobs run in validation mode and nothing is persisted.
func (p *Processor) Process(ctx context.Context, integrationName string, force bool, opts RunOptions) (*Summary, error) {
	integration, err := p.Lookup(ctx, integrationName)
	if err != nil {
		return nil, err
	}
	return p.ProcessIntegration(ctx, integration, force, opts)
}

// Lookup loads an integration by name. A missing one is ErrIntegrationNotFound.
func (p *Processor) Lookup(ctx context.Context, integrationName string) (*models.Integration, error) {
	integration, err := p.deps.Store.GetIntegrationByName(ctx, integrationName)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, integrationName)
	}
	if err != nil {
		return nil, err
	}
	return integration, nil
}

// ProcessIntegration runs the connectors sequentially in configured order. A
// connector that cannot be resolved is reported and skipped. The returned
// error aggregates storage failures; the summary is complete regardless.
func (p *Processor) ProcessIntegration(ctx context.Context, integration *models.Integration, force bool, opts RunOptions) (*Summary, error) {
	if !integration.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationDisabled, integration.Name)
	}

	collector := &CollectingReporter{Next: opts.Reporter}
	if collector.Next == nil {
		collector.Next = NewLogReporter(p.logger)
	}
	collector.summary.IntegrationID = integration.ID
	collector.summary.IntegrationName = integration.Name

	mode := job.ModeImportValidation
	if force {
		mode = job.ModeImport
	}
	if opts.TransportBatchSize <= 0 {
		opts.TransportBatchSize = models.DefaultTransportBatchSize
	}

	connectors := integration.Connectors
	if opts.Connector != "" {
		if !integration.HasConnector(opts.Connector) {
			err := fmt.Errorf("%w: connector %q is not configured", ErrMisconfigured, opts.Connector)
			p.skip(collector, integration, opts.Connector, err)
			return collector.Summary(), nil
		}
		connectors = []string{opts.Connector}
	}

	var (
		transport registry.Transport
		openErr   error
		opened    bool
		storeErrs *multierror.Error
	)
	for _, name := range connectors {
		if err := ctx.Err(); err != nil {
			storeErrs = multierror.Append(storeErrs, err)
			break
		}

		connector, err := p.deps.Registry.ConnectorType(integration.Type, name)
		if err != nil {
			p.skip(collector, integration, name, err)
			continue
		}
		aliases := p.deps.Processors.ProcessorAliasesByEntity(connector.ImportEntity())
		if len(aliases) == 0 {
			p.skip(collector, integration, name, fmt.Errorf("no import processor for entity %q", connector.ImportEntity()))
			continue
		}

		if !opened {
			transport, openErr = OpenTransport(ctx, p.deps.Registry, integration)
			opened = true
		}
		if openErr != nil {
			p.skip(collector, integration, name, openErr)
			continue
		}

		reader, err := connector.NewReader(ctx, transport, integration.Transport.Settings, registry.ReaderOptions{
			BatchSize: opts.TransportBatchSize,
			Since:     integration.Transport.LastSyncDate,
			Params:    opts.Params,
		})
		if err != nil {
			p.skip(collector, integration, name, fmt.Errorf("configure connector: %w", err))
			continue
		}

		jobName := connector.ImportJobName(mode == job.ModeImportValidation)
		jobResult := p.deps.Runner.ExecuteJob(ctx, mode, jobName, job.Config{
			IntegrationID:  integration.ID,
			Entity:         connector.ImportEntity(),
			ProcessorAlias: aliases[0],
			Reader:         reader,
			Store:          p.deps.Store,
			BatchSize:      models.DefaultBatchSize,
			MaxEmptyRanges: models.DefaultEmptyRangesCount,
		})
		result := ProcessImport(jobResult)
		result.Connector = name

		collector.ReportResult(integration, result)
		metrics.ObserveSyncRun(name, string(mode), result.Success, result.Duration, result.Counts.Map())
		p.publish(events.EventConnectorSynced, integration, result)

		if mode != job.ModeImport {
			continue
		}
		if err := p.deps.Store.UpdateLastSyncDate(ctx, integration.ID, p.now().UTC()); err != nil {
			p.logger.Error().Err(err).Int64("integration_id", integration.ID).Msg("Failed to save last sync date")
			storeErrs = multierror.Append(storeErrs, err)
		}
		if err := p.addStatus(ctx, integration, result); err != nil {
			p.logger.Error().Err(err).Int64("integration_id", integration.ID).Msg("Failed to save status")
			storeErrs = multierror.Append(storeErrs, err)
		}
	}

	return collector.Summary(), storeErrs.ErrorOrNil()
}

func (p *Processor) skip(reporter Reporter, integration *models.Integration, connector string, err error) {
	reporter.ReportSkip(integration, connector, err)
	_ = p.deps.Events.PublishJSON(events.EventConnectorSkipped, events.SyncEventPayload{
		IntegrationID:   integration.ID,
		IntegrationName: integration.Name,
		Connector:       connector,
		Message:         err.Error(),
		OccurredAt:      p.now().UTC(),
	})
}

func (p *Processor) publish(eventType string, integration *models.Integration, result *Result) {
	_ = p.deps.Events.PublishJSON(eventType, events.SyncEventPayload{
		IntegrationID:   integration.ID,
		IntegrationName: integration.Name,
		Connector:       result.Connector,
		Mode:            string(result.Mode),
		Success:         result.Success,
		Message:         result.Message,
		Counts:          result.Counts.Map(),
		Errors:          result.Errors,
		OccurredAt:      p.now().UTC(),
	})
}

func (p *Processor) addStatus(ctx context.Context, integration *models.Integration, result *Result) error {
	code := models.StatusCompleted
	if !result.Success {
		code = models.StatusFailed
	}
	data, err := json.Marshal(result.Counts)
	if err != nil {
		return err
	}
	return p.deps.Store.AddStatus(ctx, &models.Status{
		IntegrationID: integration.ID,
		Connector:     result.Connector,
		Code:          code,
		Message:       result.Message,
		Data:          string(data),
	})
}

// OpenTransport resolves and initializes the integration's transport.
func OpenTransport(ctx context.Context, reg *registry.Registry, integration *models.Integration) (registry.Transport, error) {
	if integration.Transport == nil {
		return nil, fmt.Errorf("%w: integration %q has no transport", ErrMisconfigured, integration.Name)
	}
	transportType, err := reg.TransportTypeBySettings(integration.Transport, integration.Type)
	if err != nil {
		return nil, err
	}
	transport := transportType.New()
	connected, err := transport.Init(ctx, integration.Transport.Settings)
	if err != nil {
		return nil, fmt.Errorf("init transport %s: %w", transportType.Name(), err)
	}
	if !connected {
		return nil, fmt.Errorf("transport %s could not connect", transportType.Name())
	}
	return transport, nil
}
