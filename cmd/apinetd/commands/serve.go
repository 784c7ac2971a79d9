package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-apinet/apinet"
	"github.com/cyberinferno/go-apinet/cacher"
	"github.com/cyberinferno/go-apinet/logger"
)

// serve: run the API server until interrupted.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with the demo actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringP("config", "c", "", "TOML config file")
	cmd.Flags().String("addr", apinet.DefaultAddr, "bind address, e.g. *:5500 or tcp://127.0.0.1:5500")
	cmd.Flags().Bool("multiplex", false, "run requests on one connection concurrently")
	cmd.Flags().Bool("http", true, "accept HTTP/1.1 requests on the same port")
	cmd.Flags().String("log-level", "info", "debug, info, warn or error")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9100")
	return cmd
}

// loadServeConfig layers flags the user set explicitly over file and
// environment settings.
func loadServeConfig(cmd *cobra.Command) (apinet.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := apinet.LoadConfig(path)
	if err != nil {
		return apinet.Config{}, err
	}

	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("multiplex") {
		cfg.Multiplex, _ = flags.GetBool("multiplex")
	}
	if flags.Changed("http") {
		cfg.AllowParseHeader, _ = flags.GetBool("http")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return apinet.Config{}, err
	}

	return cfg, nil
}

func newServiceLogger(cfg apinet.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogDir != "" {
		return logger.NewZerologFileLogger(cfg.Name, cfg.LogDir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), cfg.Name, level), nil
}

// newItemsStore returns the cache behind the session scratch override, or nil
// when sessions keep scratch data in process only.
func newItemsStore(ctx context.Context, cfg apinet.ItemsConfig) (cacher.Cacher[any], func() error, error) {
	switch cfg.Backend {
	case apinet.ItemsBackendMemory:
		return cacher.NewMemoryCacher[any](cfg.TTL, cfg.TTL), func() error { return nil }, nil
	case apinet.ItemsBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return cacher.NewRedisCacher[any](client), client.Close, nil
	default:
		return nil, func() error { return nil }, nil
	}
}

func runServer(ctx context.Context, cfg apinet.Config) error {
	log, err := newServiceLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	host, err := apinet.NewApiHost(nil, log, demoActions()...)
	if err != nil {
		return err
	}

	srv := apinet.NewServer(cfg, log)
	if err := srv.Init(cfg.Addr, host); err != nil {
		return err
	}

	store, closeStore, err := newItemsStore(ctx, cfg.Items)
	if err != nil {
		log.Error("scratch store unavailable", logger.Err(err))
		return err
	}
	defer func() { _ = closeStore() }()

	if store != nil {
		srv.ItemsOverride = apinet.CacheItemsOverride(store, cfg.Items.TTL, log)
	}

	if cfg.MetricsAddr != "" {
		_, stopMetrics, err := serveMetrics(srv, cfg, log)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down", logger.Field{Key: "dropped_replies", Value: srv.DroppedReplies()})
	srv.Stop()

	return nil
}

// serveMetrics registers the server collectors on a private registry and
// exposes it on /metrics. It returns the bound address and a func that shuts
// the endpoint down.
func serveMetrics(srv *apinet.Server, cfg apinet.Config, log logger.Logger) (string, func(), error) {
	addr, err := apinet.ParseBindAddress(cfg.MetricsAddr)
	if err != nil {
		return "", nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := apinet.NewMetrics(cfg.Name)
	if err := metrics.Register(registry); err != nil {
		return "", nil, err
	}
	srv.Metrics = metrics

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", logger.Err(err))
		}
	}()

	log.Info("metrics listening", logger.Field{Key: "addr", Value: ln.Addr().String()})

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}, nil
}
