package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"channelsync/internal/models"
	"channelsync/internal/registry"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// TypeName is the registry name of the REST transport.
const TypeName = "rest"

const (
	defaultTimeout         = 30 * time.Second
	defaultRPS             = 10
	defaultMaxTries        = 3
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	maxResponseSize        = 32 << 20
)

// StatusError is a non-2xx answer of the remote API.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Option tunes transports created by a Type.
type Option func(*Transport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// WithRetryInterval sets the initial retry delay.
func WithRetryInterval(d time.Duration) Option {
	return func(t *Transport) { t.retryInterval = d }
}

// Type registers the REST transport.
type Type struct {
	opts []Option
}

func NewType(opts ...Option) *Type {
	return &Type{opts: opts}
}

func (*Type) Name() string  { return TypeName }
func (*Type) Label() string { return "REST API" }

func (t *Type) New() registry.Transport {
	return NewTransport(t.opts...)
}

// SupportsSettings accepts settings carrying an http(s) base url.
func (*Type) SupportsSettings(transport *models.Transport) bool {
	if transport == nil {
		return false
	}
	u := transport.Settings.GetString("url")
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Transport calls a JSON REST API. Calls are rate limited, retried with
// exponential backoff on temporary failures and guarded by a circuit breaker.
type Transport struct {
	baseURL       *url.URL
	headers       http.Header
	client        *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	maxTries      uint
	retryInterval time.Duration
}

func NewTransport(opts ...Option) *Transport {
	t := &Transport{retryInterval: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init reads the transport settings. It returns false when no base url is
// configured.
//
// Recognized keys: url, api_key, auth_header, auth_scheme, timeout_seconds,
// rate_limit, rate_burst, max_retries, breaker_failures.
func (t *Transport) Init(_ context.Context, settings models.Settings) (bool, error) {
	raw := strings.TrimSpace(settings.GetString("url"))
	if raw == "" {
		return false, nil
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Host == "" {
		return false, fmt.Errorf("rest transport: invalid url %q", raw)
	}
	t.baseURL = base

	t.headers = http.Header{}
	t.headers.Set("Accept", "application/json")
	if key := settings.GetString("api_key"); key != "" {
		header := settings.GetString("auth_header")
		if header == "" {
			header = "Authorization"
		}
		scheme := settings.GetString("auth_scheme")
		if scheme == "" && header == "Authorization" {
			scheme = "Bearer"
		}
		if scheme != "" {
			key = scheme + " " + key
		}
		t.headers.Set(header, key)
	}

	if t.client == nil {
		timeout := defaultTimeout
		if secs := settings.GetInt64("timeout_seconds"); secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
		t.client = &http.Client{Timeout: timeout}
	}

	rps := settings.GetInt64("rate_limit")
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := int(settings.GetInt64("rate_burst"))
	if burst <= 0 {
		burst = int(rps)
	}
	t.limiter = rate.NewLimiter(rate.Limit(rps), burst)

	t.maxTries = defaultMaxTries
	if n := settings.GetInt64("max_retries"); n > 0 {
		t.maxTries = uint(n)
	}

	failures := uint32(defaultBreakerFailures)
	if n := settings.GetInt64("breaker_failures"); n > 0 {
		failures = uint32(n)
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    base.Host,
		Timeout: defaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil
		},
	})
	return true, nil
}

// Call performs action, written as "METHOD /path" (method defaults to GET).
// For GET and DELETE params become the query string, otherwise the JSON body.
func (t *Transport) Call(ctx context.Context, action string, params map[string]interface{}) ([]byte, error) {
	if t.baseURL == nil {
		return nil, errors.New("rest transport: not initialized")
	}
	method, path := parseAction(action)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.retryInterval
	bo.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() ([]byte, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		out, err := t.breaker.Execute(func() (interface{}, error) {
			return t.do(ctx, method, path, params)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out.([]byte), nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(t.maxTries))
}

func (t *Transport) do(ctx context.Context, method, path string, params map[string]interface{}) ([]byte, error) {
	target := *t.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(path, "/")

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		query := target.Query()
		for k, v := range params {
			query.Set(k, queryValue(v))
		}
		target.RawQuery = query.Encode()
	} else if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, URL: target.Path, Code: resp.StatusCode, Body: truncate(string(data), 256)}
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return nil, errors.Join(se, backoff.RetryAfter(secs))
			}
		}
		return nil, se
	}
	return data, nil
}

func parseAction(action string) (string, string) {
	action = strings.TrimSpace(action)
	if method, path, ok := strings.Cut(action, " "); ok {
		return strings.ToUpper(method), strings.TrimSpace(path)
	}
	return http.MethodGet, action
}

func queryValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
