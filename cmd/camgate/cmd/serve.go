package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/camgate/internal/config"
	"github.com/jmylchreest/camgate/internal/gateway"
	internalhttp "github.com/jmylchreest/camgate/internal/http"
	"github.com/jmylchreest/camgate/internal/http/handlers"
	"github.com/jmylchreest/camgate/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camgate server",
	Long: `Start the camgate HTTP server.

The server provides:
- Snapshot batches for grid, cycle and single views (/get_multi_frames/{n})
- Shared UI state (/get_ui_state, /set_ui_state, /change_view/{mode})
- Main stream control and raw per-channel MJPEG pass-through
- Health check and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 5000, "Port to listen on")
	serveCmd.Flags().String("camera-url", "", "Head-end base URL, e.g. http://192.168.0.98:18080")
	serveCmd.Flags().Bool("prefetch", false, "Fetch the current view server-side on a timer")
	serveCmd.Flags().Bool("detector", false, "Annotate frames with the object detector")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("camera.base_url", serveCmd.Flags().Lookup("camera-url"))
	mustBindPFlag("prefetch.enabled", serveCmd.Flags().Lookup("prefetch"))
	mustBindPFlag("detector.enabled", serveCmd.Flags().Lookup("detector"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := gateway.New(cfg, gateway.Options{Logger: logger, Registerer: registry})
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer svc.Stop()

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	handlers.RegisterGateway(server.API(), server.Router(), svc, version.Version, logger)
	if cfg.Metrics.Enabled {
		handlers.RegisterMetrics(server.Router(), cfg.Metrics.Path, registry)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("starting camgate server",
		slog.String("version", version.Version),
		slog.String("address", cfg.Server.Address()),
		slog.String("camera", cfg.Camera.BaseURL),
		slog.Bool("prefetch", cfg.Prefetch.Enabled),
		slog.Bool("detector", cfg.Detector.Enabled),
		slog.Bool("forwarder", cfg.Forwarder.Enabled),
	)

	return server.ListenAndServe(ctx)
}
