package factory

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/config"
	"github.com/ajitpratap0/nebula-cdk/pkg/errorhandler"
	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
)

// BackoffFactory builds a strategy from its declarative form.
type BackoffFactory func(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error)

// Registry maps backoff type names to factories.
type Registry struct {
	backoffs map[string]BackoffFactory
	mu       sync.RWMutex
	// logger overrides the global logger, which is otherwise looked up on
	// each use so that logger.Init applies to the global registry too.
	logger *zap.Logger
}

// Global registry instance
var globalRegistry = newBuiltinRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backoffs: make(map[string]BackoffFactory)}
}

// SetLogger pins the registry to l instead of the global logger.
func (r *Registry) SetLogger(l *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// log must be called with r.mu held.
func (r *Registry) log() *zap.Logger {
	l := r.logger
	if l == nil {
		l = logger.Get()
	}
	return l.With(zap.String("component", "backoff_registry"))
}

func newBuiltinRegistry() *Registry {
	r := NewRegistry()
	_ = r.RegisterBackoff(config.BackoffConstant, constantBackoff)
	_ = r.RegisterBackoff(config.BackoffExponential, exponentialBackoff)
	_ = r.RegisterBackoff(config.BackoffWaitTimeFromHeader, waitTimeFromHeader)
	_ = r.RegisterBackoff(config.BackoffWaitUntilFromHeader, waitUntilTimeFromHeader)
	return r
}

// RegisterBackoff registers a backoff factory under name.
func (r *Registry) RegisterBackoff(name string, factory BackoffFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backoffs[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("backoff strategy %s already registered", name))
	}

	r.backoffs[name] = factory
	r.log().Debug("backoff strategy registered", zap.String("name", name))
	return nil
}

// CreateBackoff builds the strategy cfg.Type names.
func (r *Registry) CreateBackoff(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error) {
	r.mu.RLock()
	factory, exists := r.backoffs[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("backoff strategy %s not found", cfg.Type))
	}

	strategy, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create backoff strategy %s", cfg.Type))
	}
	return strategy, nil
}

// ListBackoffs returns registered names in order.
func (r *Registry) ListBackoffs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backoffs))
	for name := range r.backoffs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBackoff registers a factory in the global registry.
func RegisterBackoff(name string, factory BackoffFactory) error {
	return globalRegistry.RegisterBackoff(name, factory)
}

// GetRegistry returns the global registry.
func GetRegistry() *Registry {
	return globalRegistry
}

func constantBackoff(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error) {
	if cfg.BackoffTimeInSeconds < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "backoff_time_in_seconds must not be negative")
	}
	return errorhandler.ConstantBackoff{Wait: seconds(cfg.BackoffTimeInSeconds)}, nil
}

func exponentialBackoff(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error) {
	factor := cfg.Factor
	if factor == 0 {
		factor = errorhandler.DefaultBackoffFactor
	}
	if factor < 0 || cfg.Base < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "factor and base must not be negative")
	}
	return errorhandler.ExponentialBackoff{Factor: factor, Base: cfg.Base}, nil
}

func waitTimeFromHeader(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error) {
	if cfg.Header == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "header is required")
	}
	return errorhandler.NewWaitTimeFromHeader(cfg.Header, cfg.Regex, seconds(cfg.MaxWaiting))
}

func waitUntilTimeFromHeader(cfg config.BackoffConfig) (errorhandler.BackoffStrategy, error) {
	if cfg.Header == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "header is required")
	}
	return errorhandler.NewWaitUntilTimeFromHeader(cfg.Header, cfg.Regex, seconds(cfg.MinWait))
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	if s >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(math.Round(s * float64(time.Second)))
}
