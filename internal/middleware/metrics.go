package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command", "status"})

	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genai_bot_provider_request_duration_seconds",
		Help:    "Duration of generation requests, including streamed ones",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_provider_requests_total",
		Help: "Total number of generation requests",
	}, []string{"provider", "status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genai_bot_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genai_bot_cache_misses_total",
		Help: "Total number of cache misses",
	})

	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_rate_limit_exceeded_total",
		Help: "Total number of rejected commands per command",
	}, []string{"command"})

	// Stream metrics
	streamEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_stream_edits_total",
		Help: "Message edits issued while relaying streamed generations",
	}, []string{"kind", "status"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genai_bot_active_streams",
		Help: "Number of generations currently being relayed",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genai_bot_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genai_bot_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordCommand records an executed command and its outcome
func (m *Metrics) RecordCommand(command, status string) {
	commandsExecuted.WithLabelValues(command, status).Inc()
}

// RecordProviderRequest records a generation request
func (m *Metrics) RecordProviderRequest(provider, status string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rejected command
func (m *Metrics) RecordRateLimitExceeded(command string) {
	rateLimitExceeded.WithLabelValues(command).Inc()
}

// RecordStreamEdit records one edit of a streamed answer
func (m *Metrics) RecordStreamEdit(kind, status string) {
	streamEdits.WithLabelValues(kind, status).Inc()
}

// StreamStarted and StreamFinished track in-flight relays
func (m *Metrics) StreamStarted() {
	activeStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	activeStreams.Dec()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// NewMetricsRouter exposes the Prometheus handler and a health check.
func NewMetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return router
}

// StartMetricsServer serves metrics until ctx is cancelled.
func StartMetricsServer(ctx context.Context, port int, path string) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      NewMetricsRouter(path),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
