package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the Prometheus scrape endpoint for the admission
// metrics on its own port, outside the gated router, so scrapes are never
// classified, counted or denied.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates the scrape server at the given path and port. With
// a nil provider (or one without a Prometheus exporter) the server still
// starts but serves 404 for every path, which keeps the admission gate's
// behavior identical whether metrics are collected or not.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if provider != nil && provider.promExporter != nil {
		mux.Handle(path, promhttp.Handler())
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start begins serving scrapes in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	slog.Info("Starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the scrape server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
