package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lisuiheng/pusher-go/client"
	"github.com/lisuiheng/pusher-go/config"
	"github.com/lisuiheng/pusher-go/logger"
	"github.com/lisuiheng/pusher-go/metrics"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
	"github.com/lisuiheng/pusher-go/protocol"
	"github.com/lisuiheng/pusher-go/protocols/websocket"
)

// Set at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "pusher",
		Short:         "Pusher protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(listenCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pusher %s (%s %s, protocol %d)\n",
				version, config.ClientName, config.ClientVersion, config.ProtocolVersion)
		},
	}
}

func listenCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to an app and log every event until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath,
				config.BindFlag("app.key", cmd.Flags().Lookup("key")),
				config.BindFlag("app.cluster", cmd.Flags().Lookup("cluster")),
			)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, debug); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return listen(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, /etc/pusher/config.yaml)")
	cmd.Flags().String("key", "", "App key")
	cmd.Flags().String("cluster", "", "App cluster")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level to stdout")
	return cmd
}

func initLogger(cfg config.Config, debug bool) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	if err := logger.Init(logCfg); err != nil {
		return err
	}
	if debug {
		logger.Debug("Debug mode enabled")
	}
	return nil
}

func listen(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []client.Option
	opts = append(opts, client.WithLogger(logger.Logger()))

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		collector := metrics.New(metrics.WithRegistry(registry), metrics.WithNamespace(cfg.Metrics.Namespace))
		opts = append(opts, client.WithObserver(collector.Observe))

		srv := serveMetrics(cfg.Metrics.Addr, registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to stop metrics server", "error", err)
			}
		}()
	}

	log := logger.Logger()
	factory := func(url string) interfaces.Transport {
		return websocket.NewTransport(url,
			websocket.WithHandshakeTimeout(cfg.Connection.HandshakeTimeout),
			websocket.WithLogger(log),
		)
	}

	c, err := client.New(cfg, factory, opts...)
	if err != nil {
		return err
	}

	failed := make(chan struct{})
	var failOnce sync.Once
	c.Bind(client.EventConnected, func(data interface{}) {
		logger.Info("Connected", "socket_id", data)
	})
	c.Bind(client.EventMessage, func(data interface{}) {
		envelope, _ := data.(protocol.Envelope)
		logger.Info("Message", "event", envelope.Event, "channel", envelope.Channel, "data", envelope.Data)
	})
	c.Bind(client.EventError, func(data interface{}) {
		if err, ok := data.(error); ok && errors.Is(err, client.ErrRefused) {
			failOnce.Do(func() { close(failed) })
		}
	})

	logger.Info("Starting pusher listener", "key", cfg.App.Key, "cluster", cfg.App.Cluster)
	c.Connect()

	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down")
	case <-failed:
		logger.Error("Connection refused, shutting down")
	}

	c.Disconnect()
	logger.Info("Listener shutdown completed")
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()
	return srv
}
