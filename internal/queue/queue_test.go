package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"channelsync/internal/database"
	"channelsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func taskByMessageID(t *testing.T, db *database.DB, messageID string) models.SyncTask {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(`SELECT id FROM sync_queue WHERE message_id = ?`, messageID).Scan(&id))
	task, err := db.GetSyncTask(context.Background(), id)
	require.NoError(t, err)
	return *task
}

func fastRetry() Options {
	return Options{
		Retry:        RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		PollInterval: 10 * time.Millisecond,
	}
}

func TestQueue_PublishAndAckThroughRedis(t *testing.T) {
	db := setupDB(t)
	s, client := setupRedis(t)
	q := New(db, client, fastRetry(), nil)
	ctx := context.Background()

	var got *Message
	q.Subscribe(TopicSyncRequested, HandlerFunc(func(_ context.Context, msg *Message) (Status, error) {
		got = msg
		return Ack, nil
	}))

	id, err := q.Publish(ctx, TopicSyncRequested, 7, map[string]interface{}{"integrationId": 7})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	list, err := s.List(DefaultQueueKey)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, 1, q.Poll(ctx))
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, int64(7), got.IntegrationID)
	assert.Equal(t, 1, got.Attempt)
	assert.JSONEq(t, `{"integrationId":7}`, string(got.Body))

	assert.Equal(t, models.TaskCompleted, taskByMessageID(t, db, id).Status)
	assert.Zero(t, q.Poll(ctx), "completed message is not delivered again")
}

func TestQueue_MemoryFallbackAndPolling(t *testing.T) {
	db := setupDB(t)
	q := New(db, nil, fastRetry(), nil)
	ctx := context.Background()

	var calls int32
	q.Subscribe("t", HandlerFunc(func(context.Context, *Message) (Status, error) {
		atomic.AddInt32(&calls, 1)
		return Ack, nil
	}))

	_, err := q.Publish(ctx, "t", 0, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Poll(ctx))

	// persisted but never pushed: only polling sees it
	require.NoError(t, db.CreateSyncTask(ctx, &models.SyncTask{MessageID: "orphan", Topic: "t", Payload: "{}"}))
	assert.Equal(t, 1, q.Poll(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueue_DuplicateDeliveryIsClaimedOnce(t *testing.T) {
	db := setupDB(t)
	_, client := setupRedis(t)
	q := New(db, client, fastRetry(), nil)
	ctx := context.Background()

	var calls int32
	q.Subscribe("t", HandlerFunc(func(context.Context, *Message) (Status, error) {
		atomic.AddInt32(&calls, 1)
		return Ack, nil
	}))

	id, err := q.Publish(ctx, "t", 0, struct{}{})
	require.NoError(t, err)
	task := taskByMessageID(t, db, id)
	require.NoError(t, q.pushRedis(ctx, DefaultQueueKey, task))

	q.Poll(ctx)
	q.Poll(ctx)
	q.Poll(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueue_FatalGoesToDeadLetter(t *testing.T) {
	db := setupDB(t)
	_, client := setupRedis(t)
	q := New(db, client, fastRetry(), nil)
	ctx := context.Background()

	q.Subscribe("t", HandlerFunc(func(context.Context, *Message) (Status, error) {
		return Reject, Fatal(errors.New("malformed"))
	}))

	id, err := q.Publish(ctx, "t", 0, struct{}{})
	require.NoError(t, err)
	q.Poll(ctx)

	task := taskByMessageID(t, db, id)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Zero(t, task.RetryCount)
	require.NotNil(t, task.LastError)
	assert.Equal(t, "malformed", *task.LastError)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].MessageID)
}

func TestQueue_RetryThenFail(t *testing.T) {
	db := setupDB(t)
	q := New(db, nil, fastRetry(), nil)
	ctx := context.Background()

	var attempts []int
	q.Subscribe("t", HandlerFunc(func(_ context.Context, msg *Message) (Status, error) {
		attempts = append(attempts, msg.Attempt)
		return Ack, errors.New("remote unavailable")
	}))

	id, err := q.Publish(ctx, "t", 0, struct{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		q.Poll(ctx)
		return taskByMessageID(t, db, id).Status == models.TaskFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 2, taskByMessageID(t, db, id).RetryCount)
}

func TestQueue_RequeueKeepsAttempts(t *testing.T) {
	db := setupDB(t)
	q := New(db, nil, fastRetry(), nil)
	ctx := context.Background()

	var calls int32
	q.Subscribe("t", HandlerFunc(func(context.Context, *Message) (Status, error) {
		if atomic.AddInt32(&calls, 1) < 5 {
			return Requeue, nil
		}
		return Ack, nil
	}))

	id, err := q.Publish(ctx, "t", 0, struct{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		q.Poll(ctx)
		return taskByMessageID(t, db, id).Status == models.TaskCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(5), atomic.LoadInt32(&calls), "requeue does not exhaust retries")
	assert.Zero(t, taskByMessageID(t, db, id).RetryCount)
}

func TestQueue_InFlightKeepsTheClaim(t *testing.T) {
	db := setupDB(t)
	opts := fastRetry()
	opts.Visibility = time.Minute
	q := New(db, nil, opts, nil)
	ctx := context.Background()

	q.Subscribe("t", HandlerFunc(func(context.Context, *Message) (Status, error) {
		return InFlight, nil
	}))
	id, err := q.Publish(ctx, "t", 0, struct{}{})
	require.NoError(t, err)
	require.Equal(t, 1, q.Poll(ctx))

	task := taskByMessageID(t, db, id)
	assert.Equal(t, models.TaskProcessing, task.Status)
	assert.Nil(t, task.LastError)
	assert.Zero(t, task.RetryCount)
	require.NotNil(t, task.NextRetryAt)
	assert.True(t, task.NextRetryAt.After(time.Now().Add(30*time.Second)), "claim deadline is kept")

	// the earlier delivery settles the row
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil))
	assert.Zero(t, q.Poll(ctx))
	assert.Equal(t, models.TaskCompleted, taskByMessageID(t, db, id).Status)
}

func TestQueue_UnroutableAndPanic(t *testing.T) {
	db := setupDB(t)
	q := New(db, nil, Options{Retry: RetryPolicy{MaxRetries: 1}}, nil)
	ctx := context.Background()

	id, err := q.Publish(ctx, "nobody", 0, struct{}{})
	require.NoError(t, err)
	q.Poll(ctx)
	task := taskByMessageID(t, db, id)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, *task.LastError, ErrNoHandler.Error())

	q.Subscribe("boom", HandlerFunc(func(context.Context, *Message) (Status, error) {
		panic("nil map")
	}))
	id, err = q.Publish(ctx, "boom", 0, struct{}{})
	require.NoError(t, err)
	assert.NotPanics(t, func() { q.Poll(ctx) })
	task = taskByMessageID(t, db, id)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, *task.LastError, "handler panic")
}

func TestQueue_StartStops(t *testing.T) {
	db := setupDB(t)
	opts := fastRetry()
	opts.Concurrency = 2
	q := New(db, nil, opts, nil)

	handled := make(chan string, 1)
	q.Subscribe("t", HandlerFunc(func(_ context.Context, msg *Message) (Status, error) {
		handled <- msg.ID
		return Ack, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Start(ctx)
		close(done)
	}()

	id, err := q.Publish(context.Background(), "t", 0, struct{}{})
	require.NoError(t, err)

	select {
	case got := <-handled:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not handled")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop")
	}
}

func TestMessage_Decode(t *testing.T) {
	msg := &Message{ID: "m", Body: []byte(`{"integrationId":`)}
	var body map[string]interface{}
	err := msg.Decode(&body)
	assert.Error(t, err)
	assert.True(t, IsFatal(err))

	assert.Nil(t, Fatal(nil))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	assert.Equal(t, time.Second, policy.NextDelay(0))
	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextDelay(3))
	assert.Equal(t, 5*time.Second, policy.NextDelay(4))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "reject", Reject.String())
	assert.Equal(t, "requeue", Requeue.String())
	assert.Equal(t, "in_flight", InFlight.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
