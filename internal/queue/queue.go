package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"channelsync/internal/metrics"
	"channelsync/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueKey      = "channelsync:queue"
	DefaultDeadLetterKey = "channelsync:deadletter"
)

var ErrNoHandler = errors.New("no handler for topic")

// TaskStore is the durable side of the queue, implemented by *database.DB.
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	ClaimSyncTask(ctx context.Context, id int64, visibility time.Duration) (bool, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	RescheduleSyncTask(ctx context.Context, id int64, reason string, at time.Time) error
}

type Options struct {
	Retry         RetryPolicy
	PollInterval  time.Duration
	BatchSize     int
	Concurrency   int
	Visibility    time.Duration
	QueueKey      string
	DeadLetterKey string
}

// Queue publishes messages and consumes them with registered handlers.
type Queue struct {
	store    TaskStore
	redis    *redis.Client
	opts     Options
	local    chan models.SyncTask
	logger   *zerolog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a queue; redisClient may be nil.
func New(store TaskStore, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *Queue {
	opts.Retry = opts.Retry.withDefaults()
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Visibility <= 0 {
		opts.Visibility = time.Hour
	}
	if opts.QueueKey == "" {
		opts.QueueKey = DefaultQueueKey
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = DefaultDeadLetterKey
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Queue{
		store:    store,
		redis:    redisClient,
		opts:     opts,
		local:    make(chan models.SyncTask, models.WorkerQueueSize),
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Subscribe registers the handler for topic, replacing any previous one.
func (q *Queue) Subscribe(topic string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = handler
}

// Publish persists the message and schedules it for delivery. It never waits
// for the message to be handled.
func (q *Queue) Publish(ctx context.Context, topic string, integrationID int64, body interface{}) (string, error) {
	if topic == "" {
		return "", errors.New("topic is required")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		MessageID:     uuid.NewString(),
		Topic:         topic,
		IntegrationID: integrationID,
		Payload:       string(payload),
		Status:        models.TaskPending,
	}
	if err := q.store.CreateSyncTask(ctx, &task); err != nil {
		return "", fmt.Errorf("persist message: %w", err)
	}

	// Try redis first for durability.
	if q.redis != nil {
		if err := q.pushRedis(ctx, q.opts.QueueKey, task); err != nil {
			q.logger.Warn().Err(err).Str("message_id", task.MessageID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return task.MessageID, nil
		}
	}

	select {
	case q.local <- task:
	default:
		q.logger.Warn().Str("message_id", task.MessageID).Msg("In-memory queue full, message left to polling")
	}
	return task.MessageID, nil
}

// Start runs the consumers until ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info().Int("concurrency", q.opts.Concurrency).Msg("Queue consumer started")
	defer q.logger.Info().Msg("Queue consumer stopped")

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.loop(ctx)
		}()
	}
	wg.Wait()
}

func (q *Queue) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if processed := q.Poll(ctx); processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.PollInterval):
			}
		}
	}
}

// Poll delivers whatever is immediately available and returns how many
// messages were handled.
func (q *Queue) Poll(ctx context.Context) int {
	if t, ok := q.tryLocal(); ok {
		return q.deliver(ctx, &t)
	}
	if t, ok := q.tryRedis(ctx); ok {
		return q.deliver(ctx, &t)
	}

	tasks, err := q.store.GetPendingSyncTasks(ctx, q.opts.BatchSize)
	if err != nil {
		q.logger.Error().Err(err).Msg("Fetch pending messages failed")
		return 0
	}
	processed := 0
	for i := range tasks {
		processed += q.deliver(ctx, &tasks[i])
	}
	return processed
}

func (q *Queue) tryLocal() (models.SyncTask, bool) {
	select {
	case t := <-q.local:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (q *Queue) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if q.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := q.redis.BRPop(ctx, time.Second, q.opts.QueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		q.logger.Error().Err(err).Msg("Redis BRPOP failed")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Error().Err(err).Msg("Decode redis message failed")
		return models.SyncTask{}, false
	}
	return task, true
}

// deliver claims the task and runs its handler; returns 1 if handled.
func (q *Queue) deliver(ctx context.Context, task *models.SyncTask) int {
	claimed, err := q.store.ClaimSyncTask(ctx, task.ID, q.opts.Visibility)
	if err != nil {
		q.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Claim message failed")
		return 0
	}
	if !claimed {
		// handled elsewhere, or not due yet
		return 0
	}

	logger := q.logger.With().Str("message_id", task.MessageID).Str("topic", task.Topic).Int64("task_id", task.ID).Logger()

	q.mu.RLock()
	handler, ok := q.handlers[task.Topic]
	q.mu.RUnlock()
	if !ok {
		q.fail(ctx, task, fmt.Errorf("%w: %s", ErrNoHandler, task.Topic))
		metrics.IncQueueMessage(task.Topic, "unroutable")
		return 1
	}

	msg := &Message{
		ID:            task.MessageID,
		Topic:         task.Topic,
		IntegrationID: task.IntegrationID,
		Body:          json.RawMessage(task.Payload),
		Attempt:       task.RetryCount + 1,
	}
	status, err := q.handle(ctx, handler, msg)

	switch {
	case err != nil && IsFatal(err):
		logger.Error().Err(err).Msg("Message rejected")
		q.fail(ctx, task, err)
		metrics.IncQueueMessage(task.Topic, "fatal")
	case err != nil:
		logger.Warn().Err(err).Int("attempt", msg.Attempt).Msg("Message failed")
		q.retryOrFail(ctx, task, err)
		metrics.IncQueueMessage(task.Topic, "error")
	case status == Ack:
		if err := q.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
			logger.Error().Err(err).Msg("Mark completed failed")
		}
		metrics.IncQueueMessage(task.Topic, status.String())
	case status == Requeue:
		next := time.Now().UTC().Add(q.opts.Retry.NextDelay(task.RetryCount + 1))
		if err := q.store.RescheduleSyncTask(ctx, task.ID, "requeued", next); err != nil {
			logger.Error().Err(err).Msg("Requeue failed")
		}
		logger.Debug().Time("next", next).Msg("Message requeued")
		metrics.IncQueueMessage(task.Topic, status.String())
	case status == InFlight:
		logger.Info().Int("attempt", msg.Attempt).Msg("Message still running in an earlier delivery")
		metrics.IncQueueMessage(task.Topic, status.String())
	default:
		q.fail(ctx, task, errors.New("rejected by handler"))
		metrics.IncQueueMessage(task.Topic, Reject.String())
	}
	return 1
}

func (q *Queue) handle(ctx context.Context, handler Handler, msg *Message) (status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = Reject, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, msg)
}

func (q *Queue) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= q.opts.Retry.MaxRetries {
		q.fail(ctx, task, cause)
		return
	}

	nextTime := time.Now().UTC().Add(q.opts.Retry.NextDelay(attempt))
	if err := q.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &nextTime); err != nil {
		q.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark retry failed")
	}
}

func (q *Queue) fail(ctx context.Context, task *models.SyncTask, cause error) {
	if err := q.store.UpdateSyncTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		q.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark failed failed")
	}
	msg := cause.Error()
	task.LastError = &msg
	task.Status = models.TaskFailed
	if q.redis != nil {
		if err := q.pushRedis(ctx, q.opts.DeadLetterKey, *task); err != nil {
			q.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
		}
	}
}

func (q *Queue) pushRedis(ctx context.Context, key string, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, key, data).Err()
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]models.SyncTask, error) {
	if q.redis == nil {
		return nil, nil
	}
	raw, err := q.redis.LRange(ctx, q.opts.DeadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]models.SyncTask, 0, len(raw))
	for _, item := range raw {
		var task models.SyncTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}
