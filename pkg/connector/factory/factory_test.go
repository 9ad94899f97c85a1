package factory

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-cdk/pkg/config"
	"github.com/ajitpratap0/nebula-cdk/pkg/errorhandler"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/state"
)

var testNow = time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC)

func streamConfig() *config.StreamConfig {
	cfg := config.Default()
	cfg.Stream = "orders"
	cfg.Requester.URLBase = "http://localhost"
	cfg.State = state.Config{Backend: state.BackendMemory}
	cfg.Incremental = incremental.Config{
		CursorField:       "updated_at",
		DatetimeFormat:    "%Y-%m-%d",
		StartDatetime:     incremental.MinMaxDatetime{Datetime: "{{ config['start_date'] }}"},
		Step:              "P1D",
		CursorGranularity: "P1D",
	}
	cfg.Config = map[string]any{"start_date": "2021-01-01"}
	return cfg
}

func response(status int, header http.Header) *errorhandler.Response {
	if header == nil {
		header = http.Header{}
	}
	return &errorhandler.Response{StatusCode: status, Header: header, RequestKey: "GET /orders"}
}

func TestBuild(t *testing.T) {
	s, err := Build(context.Background(), streamConfig(), zaptest.NewLogger(t), incremental.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	defer s.Close()

	slices, err := s.Cursor.StreamSlices(nil)
	require.NoError(t, err)
	assert.Len(t, slices, 10)
	assert.Equal(t, "2021-01-01", slices[0]["start_time"])

	assert.NotNil(t, s.Client)
	require.NotNil(t, s.Store)
	st, err := s.Store.Load(context.Background(), "orders")
	require.NoError(t, err)
	assert.Empty(t, st)

	_, ok := s.Handler.(*errorhandler.DefaultErrorHandler)
	assert.True(t, ok)
	assert.Equal(t, errorhandler.DefaultMaxRetries, s.Handler.MaxRetries())
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := streamConfig()
	cfg.Incremental.Step = "P1D"
	cfg.Incremental.CursorGranularity = ""
	_, err := BuildOffline(cfg, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg = streamConfig()
	cfg.Stream = ""
	_, err = BuildOffline(cfg, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBuildErrorHandlerChain(t *testing.T) {
	three := 3
	h, err := BuildErrorHandler([]config.ErrorHandlerConfig{
		{
			Name: "throttle",
			Filters: []config.FilterConfig{
				{Action: "RETRY", HTTPCodes: []int{429}},
			},
			BackoffStrategies: []config.BackoffConfig{
				{Type: config.BackoffWaitTimeFromHeader, Header: "wait_time"},
				{Type: config.BackoffConstant, BackoffTimeInSeconds: 10},
			},
			MaxRetries: &three,
			MaxTime:    time.Minute,
		},
		{
			Name: "not_found",
			Filters: []config.FilterConfig{
				{Action: "IGNORE", HTTPCodes: []int{404}, ErrorMessage: "missing is fine"},
			},
		},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	composite, ok := h.(*errorhandler.CompositeErrorHandler)
	require.True(t, ok)
	assert.Len(t, composite.Handlers(), 2)
	assert.Equal(t, errorhandler.DefaultMaxRetries, h.MaxRetries())

	res := h.Resolve(response(429, http.Header{"Wait_time": []string{"60"}}))
	assert.Equal(t, errorhandler.Retry(60*time.Second), res.Status)

	res = h.Resolve(response(429, nil))
	assert.Equal(t, errorhandler.Retry(10*time.Second), res.Status)

	res = h.Resolve(response(404, nil))
	assert.Equal(t, errorhandler.ActionIgnore, res.Status.Action())
	assert.Equal(t, "missing is fine", res.Message)
}

func TestBuildFilter(t *testing.T) {
	_, err := BuildFilter(config.FilterConfig{Action: "FAIL"})
	assert.Error(t, err)

	_, err = BuildFilter(config.FilterConfig{Action: "FAIL", HTTPCodes: []int{400}, Predicate: "body.error"})
	assert.Error(t, err)

	_, err = BuildFilter(config.FilterConfig{Action: "SUCCESS", HTTPCodes: []int{400}})
	assert.Error(t, err)

	f, err := BuildFilter(config.FilterConfig{Action: "fail", ErrorMessageContains: "quota"})
	require.NoError(t, err)
	assert.Equal(t, errorhandler.KindErrorMessageContains, f.Kind())
	assert.Equal(t, errorhandler.ActionFail, f.Action())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{
		config.BackoffConstant,
		config.BackoffExponential,
		config.BackoffWaitTimeFromHeader,
		config.BackoffWaitUntilFromHeader,
	}, GetRegistry().ListBackoffs())

	assert.Error(t, GetRegistry().RegisterBackoff(config.BackoffConstant, constantBackoff))

	_, err := GetRegistry().CreateBackoff(config.BackoffConfig{Type: "linear"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = GetRegistry().CreateBackoff(config.BackoffConfig{Type: config.BackoffWaitTimeFromHeader})
	assert.Error(t, err)

	_, err = GetRegistry().CreateBackoff(config.BackoffConfig{Type: config.BackoffWaitTimeFromHeader, Header: "Retry-After", Regex: "("})
	assert.Error(t, err)

	b, err := GetRegistry().CreateBackoff(config.BackoffConfig{Type: config.BackoffExponential})
	require.NoError(t, err)
	for attempt, want := range []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second} {
		wait, ok, err := b.BackoffTime(nil, attempt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, wait)
	}
}
