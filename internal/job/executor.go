package job

import (
	"context"
	"fmt"
	"time"

	"channelsync/internal/models"

	"github.com/rs/zerolog"
)

type Executor struct {
	processors *ProcessorRegistry
	logger     *zerolog.Logger
}

func NewExecutor(processors *ProcessorRegistry, logger *zerolog.Logger) *Executor {
	if processors == nil {
		processors = NewProcessorRegistry()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Executor{processors: processors, logger: logger}
}

func (e *Executor) Processors() *ProcessorRegistry {
	return e.processors
}

// ExecuteJob reads every page, processes each item and, in import mode, writes
// the outcome in batches. Validation mode never touches the store's write side.
func (e *Executor) ExecuteJob(ctx context.Context, mode Mode, jobName string, cfg Config) *Result {
	result := &Result{JobName: jobName, Mode: mode, StartedAt: time.Now()}
	defer func() {
		result.FinishedAt = time.Now()
	}()

	logger := e.logger.With().Str("job", jobName).Str("mode", string(mode)).Logger()

	if cfg.Reader == nil || cfg.Store == nil {
		result.Failures = append(result.Failures, "job is not configured: reader and store are required")
		return result
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.DefaultBatchSize
	}

	processor, err := e.processors.New(cfg.ProcessorAlias, cfg)
	if err != nil {
		result.Failures = append(result.Failures, err.Error())
		return result
	}

	batch := make([]models.Record, 0, cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 || mode == ModeImportValidation {
			batch = batch[:0]
			return nil
		}
		if err := cfg.Store.SaveRecords(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("job interrupted: %v", err))
			return result
		}

		items, err := cfg.Reader.Read(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Reader failed")
			result.Failures = append(result.Failures, fmt.Sprintf("read: %v", err))
			return result
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			result.Counts.Read++
			record, action, err := processor.Process(ctx, item)
			if err != nil {
				result.Counts.ErrorEntries++
				result.ContextErrors = append(result.ContextErrors, err.Error())
				continue
			}
			switch action {
			case ActionAdd:
				result.Counts.Add++
			case ActionUpdate:
				result.Counts.Update++
			case ActionReplace:
				result.Counts.Replace++
			case ActionDelete:
				result.Counts.Delete++
			default:
				result.Counts.Skip++
			}
			if record == nil {
				continue
			}
			batch = append(batch, *record)
			if len(batch) >= cfg.BatchSize {
				if err := flush(); err != nil {
					logger.Error().Err(err).Msg("Writer failed")
					result.Failures = append(result.Failures, fmt.Sprintf("write: %v", err))
					return result
				}
			}
		}
	}

	if err := flush(); err != nil {
		logger.Error().Err(err).Msg("Writer failed")
		result.Failures = append(result.Failures, fmt.Sprintf("write: %v", err))
		return result
	}

	result.Successful = true
	logger.Debug().Int("read", result.Counts.Read).Int("errors", result.Counts.ErrorEntries).Msg("Job finished")
	return result
}
