package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"channelsync/internal/models"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransport(t *testing.T, handler http.HandlerFunc, extra models.Settings) *Transport {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	settings := models.Settings{"url": server.URL + "/api/", "api_key": "secret", "rate_limit": 1000}
	for k, v := range extra {
		settings[k] = v
	}
	tr := NewTransport(WithRetryInterval(time.Millisecond))
	ok, err := tr.Init(context.Background(), settings)
	require.NoError(t, err)
	require.True(t, ok)
	return tr
}

func TestTransport_Init(t *testing.T) {
	ok, err := NewTransport().Init(context.Background(), models.Settings{})
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewTransport().Init(context.Background(), models.Settings{"url": "::not a url"})
	assert.Error(t, err)
	assert.False(t, ok)

	_, err = NewTransport().Call(context.Background(), "GET /x", nil)
	assert.Error(t, err)
}

func TestTransport_GetEncodesQueryAndAuth(t *testing.T) {
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/customers", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "2024-01-02T03:04:05Z", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}, nil)

	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	body, err := tr.Call(context.Background(), "GET /customers", map[string]interface{}{"limit": 50, "since": since})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(body))
}

func TestTransport_PostSendsJSON(t *testing.T) {
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "token secret", r.Header.Get("X-Api-Key"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a", body["name"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, models.Settings{"auth_header": "X-Api-Key", "auth_scheme": "token"})

	_, err := tr.Call(context.Background(), "post orders", map[string]interface{}{"name": "a"})
	require.NoError(t, err)
}

func TestTransport_RetriesTemporaryFailures(t *testing.T) {
	var calls int32
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}, nil)

	_, err := tr.Call(context.Background(), "/ping", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTransport_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`missing`))
	}, nil)

	_, err := tr.Call(context.Background(), "/missing", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransport_BreakerOpens(t *testing.T) {
	var calls int32
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, models.Settings{"max_retries": 1, "breaker_failures": 2})

	for i := 0; i < 2; i++ {
		_, err := tr.Call(context.Background(), "/down", nil)
		require.Error(t, err)
	}
	_, err := tr.Call(context.Background(), "/down", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestType_SupportsSettings(t *testing.T) {
	typ := NewType()
	assert.Equal(t, TypeName, typ.Name())
	assert.True(t, typ.SupportsSettings(&models.Transport{Settings: models.Settings{"url": "https://shop.example"}}))
	assert.False(t, typ.SupportsSettings(&models.Transport{Settings: models.Settings{"spreadsheet_id": "x"}}))
	assert.False(t, typ.SupportsSettings(nil))
	assert.IsType(t, &Transport{}, typ.New())
}
