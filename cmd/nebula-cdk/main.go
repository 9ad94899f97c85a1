package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/internal/pipeline"
	"github.com/ajitpratap0/nebula-cdk/pkg/config"
	"github.com/ajitpratap0/nebula-cdk/pkg/connector/factory"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
	"github.com/ajitpratap0/nebula-cdk/pkg/logger"
	"github.com/ajitpratap0/nebula-cdk/pkg/observability"
	"github.com/ajitpratap0/nebula-cdk/pkg/state"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "nebula-cdk",
		Short: "Nebula CDK - declarative incremental HTTP streams",
		Long: `Nebula CDK reads a declaratively configured HTTP stream incrementally.
It partitions the time range into slices, retries throttled or failing requests
according to the configured error handlers and checkpoints state after every slice.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to stream configuration YAML file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Nebula CDK v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate a stream configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			s, err := factory.BuildOffline(cfg, logger.Get())
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "configuration for stream %q is valid\n", cfg.Stream)
			return nil
		},
	})

	var stateJSON string
	slicesCmd := &cobra.Command{
		Use:   "slices",
		Short: "Print the slices the next read would request",
		Long: `Print the slices the next read would request, one JSON object per line.
The stored state is used unless --state provides one.

Example:
  nebula-cdk slices -c orders.yaml --state '{"updated_at": "2021-01-05"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return printSlices(cmd.Context(), cmd.OutOrStdout(), cfg, stateJSON)
		},
	}
	slicesCmd.Flags().StringVar(&stateJSON, "state", "", "Stream state as JSON, overriding the stored state")
	root.AddCommand(slicesCmd)

	var metricsAddr string
	var timeout time.Duration
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read the stream, writing records and state as JSON lines to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return runRead(cmd.Context(), cmd.OutOrStdout(), cfg, metricsAddr, timeout)
		},
	}
	readCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while reading (e.g. :9090)")
	readCmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the read after this long (0 means no limit)")
	root.AddCommand(readCmd)

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the stored stream state",
	}
	stateCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(ctx context.Context, store state.Store) error {
				st, err := store.Load(ctx, cfg.Stream)
				if err != nil {
					return err
				}
				data, err := gojson.Marshal(st)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	})
	stateCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete the stored state so the next read starts from start_datetime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(ctx context.Context, store state.Store) error {
				if err := store.Delete(ctx, cfg.Stream); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "state for stream %q reset\n", cfg.Stream)
				return nil
			})
		},
	})
	root.AddCommand(stateCmd)

	return root
}

// loadConfig loads the stream file and initializes logging from it.
func loadConfig(path string) (*config.StreamConfig, error) {
	if path == "" {
		return nil, errors.New("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func withStore(ctx context.Context, cfg *config.StreamConfig, fn func(context.Context, state.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	store, err := state.Open(ctx, cfg.State, logger.Get())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func printSlices(ctx context.Context, out io.Writer, cfg *config.StreamConfig, stateJSON string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := factory.Build(ctx, cfg, logger.Get())
	if err != nil {
		return err
	}
	defer s.Close()

	st := incremental.StreamState{}
	if stateJSON != "" {
		if err := gojson.Unmarshal([]byte(stateJSON), &st); err != nil {
			return fmt.Errorf("invalid --state: %w", err)
		}
	} else if st, err = s.Store.Load(ctx, cfg.Stream); err != nil {
		return err
	}

	slices, err := s.Cursor.StreamSlices(st)
	if err != nil {
		return err
	}
	enc := gojson.NewEncoder(out)
	for _, slice := range slices {
		if err := enc.Encode(slice); err != nil {
			return err
		}
	}
	return nil
}

func runRead(ctx context.Context, out io.Writer, cfg *config.StreamConfig, metricsAddr string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logger.Get().With(zap.String("component", "nebula-cdk"))
	defer func() { _ = logger.Sync() }()

	if err := observability.Init(ctx, cfg.Tracing); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shutdown tracing", zap.Error(err))
		}
	}()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	s, err := factory.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	sink := pipeline.NewJSONLinesSink(out)
	stats, err := pipeline.NewReader(s, sink, pipeline.WithLogger(log)).Run(ctx)
	if err != nil {
		log.Error("read failed",
			zap.String("sync_id", stats.SyncID),
			zap.Int("slices_completed", stats.SlicesCompleted),
			zap.Int("records", stats.Records))
		return err
	}

	log.Info("read completed",
		zap.String("sync_id", stats.SyncID),
		zap.Int("records", stats.Records),
		zap.Int("messages", int(sink.Count())),
		zap.Duration("duration", stats.Duration))
	return nil
}
