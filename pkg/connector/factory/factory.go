// Package factory assembles the runtime pieces of a stream from its
// declarative definition.
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/clients"
	"github.com/ajitpratap0/nebula-cdk/pkg/config"
	"github.com/ajitpratap0/nebula-cdk/pkg/errorhandler"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/state"
)

// Stream holds everything needed to read one stream.
type Stream struct {
	Config  *config.StreamConfig
	Cursor  *incremental.DatetimeCursor
	Handler errorhandler.ErrorHandler
	Client  *clients.HTTPClient
	Store   state.Store
}

// Close releases the client and the state store.
func (s *Stream) Close() error {
	var firstErr error
	if s.Client != nil {
		if err := s.Client.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build validates cfg and constructs every component, opening the state store.
func Build(ctx context.Context, cfg *config.StreamConfig, logger *zap.Logger, opts ...incremental.Option) (*Stream, error) {
	s, err := BuildOffline(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	store, err := state.Open(ctx, cfg.State, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Store = store
	return s, nil
}

// BuildOffline constructs the cursor, handler and client without touching
// the state backend.
func BuildOffline(cfg *config.StreamConfig, logger *zap.Logger, opts ...incremental.Option) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("stream", cfg.Stream))

	cursor, err := BuildCursor(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	handler, err := BuildErrorHandler(cfg.ErrorHandlers, logger)
	if err != nil {
		return nil, err
	}

	client, err := clients.NewHTTPClient(&cfg.HTTP, logger)
	if err != nil {
		return nil, err
	}

	return &Stream{
		Config:  cfg,
		Cursor:  cursor,
		Handler: handler,
		Client:  client,
	}, nil
}

// BuildCursor creates the datetime cursor, exposing cfg.Config to templates.
func BuildCursor(cfg *config.StreamConfig, logger *zap.Logger, opts ...incremental.Option) (*incremental.DatetimeCursor, error) {
	all := []incremental.Option{
		incremental.WithConnectorConfig(cfg.Config),
		incremental.WithLogger(logger),
	}
	return incremental.NewDatetimeCursor(cfg.Incremental, append(all, opts...)...)
}

// BuildErrorHandler creates the classifier for the handler chain. An empty
// chain yields one handler applying the default status policy.
func BuildErrorHandler(cfgs []config.ErrorHandlerConfig, logger *zap.Logger) (errorhandler.ErrorHandler, error) {
	if len(cfgs) == 0 {
		h, err := errorhandler.NewDefaultErrorHandler(errorhandler.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return h, nil
	}

	handlers := make([]errorhandler.ErrorHandler, 0, len(cfgs))
	for i, hc := range cfgs {
		h, err := buildHandler(i, hc, logger)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return errorhandler.NewRetryClassifier(handlers...), nil
}

func buildHandler(index int, hc config.ErrorHandlerConfig, logger *zap.Logger) (*errorhandler.DefaultErrorHandler, error) {
	name := hc.Name
	if name == "" {
		name = fmt.Sprintf("handler_%d", index)
	}

	filters := make([]errorhandler.ResponseFilter, 0, len(hc.Filters))
	for _, fc := range hc.Filters {
		f, err := BuildFilter(fc)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid filter").WithDetail("handler", name)
		}
		filters = append(filters, f)
	}

	strategies := make([]errorhandler.BackoffStrategy, 0, len(hc.BackoffStrategies))
	for _, bc := range hc.BackoffStrategies {
		b, err := globalRegistry.CreateBackoff(bc)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid backoff strategy").WithDetail("handler", name)
		}
		strategies = append(strategies, b)
	}

	opts := []errorhandler.HandlerOption{
		errorhandler.WithName(name),
		errorhandler.WithFilters(filters...),
		errorhandler.WithBackoffStrategies(strategies...),
		errorhandler.WithLogger(logger),
	}
	if hc.MaxRetries != nil {
		opts = append(opts, errorhandler.WithMaxRetries(*hc.MaxRetries))
	}
	if hc.MaxTime > 0 {
		opts = append(opts, errorhandler.WithMaxTime(hc.MaxTime))
	}
	return errorhandler.NewDefaultErrorHandler(opts...)
}

// BuildFilter converts one declarative filter.
func BuildFilter(fc config.FilterConfig) (errorhandler.ResponseFilter, error) {
	action, err := errorhandler.ParseAction(fc.Action)
	if err != nil {
		return errorhandler.ResponseFilter{}, err
	}

	set := 0
	var f errorhandler.ResponseFilter
	if len(fc.HTTPCodes) > 0 {
		f = errorhandler.FilterStatusCodes(action, fc.HTTPCodes...)
		set++
	}
	if fc.Predicate != "" {
		f = errorhandler.FilterPredicate(action, fc.Predicate)
		set++
	}
	if fc.ErrorMessageContains != "" {
		f = errorhandler.FilterErrorMessageContains(action, fc.ErrorMessageContains)
		set++
	}
	if set != 1 {
		return errorhandler.ResponseFilter{}, errors.New(errors.ErrorTypeConfig,
			"filter needs exactly one of http_codes, predicate, error_message_contains")
	}
	if fc.ErrorMessage != "" {
		f = f.WithMessage(fc.ErrorMessage)
	}
	return f, f.Validate()
}
