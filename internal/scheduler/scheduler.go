package scheduler

import (
	"context"
	"fmt"
	"time"

	"channelsync/internal/config"
	"channelsync/internal/models"

	"github.com/go-co-op/gocron"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const jobTag = "schedule_sync_integrations"

// IntegrationSource lists the integrations due for periodic sync.
type IntegrationSource interface {
	ConfiguredForSync(ctx context.Context, integrationType string) ([]*models.Integration, error)
}

// SyncScheduler enqueues "sync requested" messages.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, integrationID int64, connector string, params map[string]interface{}, transportBatchSize int) (string, error)
}

// Scheduler periodically requests a sync of every configured integration.
type Scheduler struct {
	cron       *gocron.Scheduler
	spec       string
	typ        string
	source     IntegrationSource
	dispatcher SyncScheduler
	logger     *zerolog.Logger
}

func New(cfg config.SchedulerConfig, source IntegrationSource, dispatcher SyncScheduler, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:       cron,
		spec:       cfg.Cron,
		typ:        cfg.IntegrationType,
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start registers the cron job and runs the scheduler until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.Cron(s.spec).Tag(jobTag).Do(func() {
		n, err := s.EnqueueAll(ctx)
		if err != nil {
			s.logger.Error().Err(err).Int("scheduled", n).Msg("Scheduled sync finished with errors")
			return
		}
		s.logger.Info().Int("scheduled", n).Msg("Scheduled sync requested")
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.logger.Info().Str("cron", s.spec).Msg("Scheduler started")
	s.cron.StartAsync()
	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// EnqueueAll requests a sync of every enabled integration with a transport
// and returns how many messages were published.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	integrations, err := s.source.ConfiguredForSync(ctx, s.typ)
	if err != nil {
		return 0, fmt.Errorf("list integrations: %w", err)
	}

	var (
		scheduled int
		errs      *multierror.Error
	)
	for _, integration := range integrations {
		id, err := s.dispatcher.ScheduleSync(ctx, integration.ID, "", nil, 0)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("integration %s: %w", integration.Name, err))
			continue
		}
		scheduled++
		s.logger.Debug().Int64("integration_id", integration.ID).Str("message_id", id).Msg("Sync requested")
	}
	return scheduled, errs.ErrorOrNil()
}
