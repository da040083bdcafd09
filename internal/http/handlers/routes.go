package handlers

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/camgate/internal/gateway"
)

// RegisterGateway registers every gateway endpoint: huma operations on api
// and the raw MJPEG proxy on router.
func RegisterGateway(api huma.API, router chi.Router, svc *gateway.Service, version string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "handlers"))

	NewHealthHandler(version, svc).Register(api)
	NewViewHandler(svc.View).WithLogger(logger).Register(api)
	NewFramesHandler(svc.Orchestrator, svc.View).WithLogger(logger).Register(api)

	streams := NewStreamHandler(svc).WithLogger(logger)
	streams.Register(api)
	streams.RegisterProxy(router)
}

// RegisterMetrics exposes the Prometheus registry at path.
func RegisterMetrics(router chi.Router, path string, gatherer prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	router.Method(http.MethodGet, path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
