package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FeedBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_build_seconds",
		Help:    "Время построения ленты без учёта кэша",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	FeedRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_requests_total",
		Help: "Запросы ленты по виду и источнику ответа",
	}, []string{"kind", "source"})

	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Обращения к кэшу",
	}, []string{"operation", "result"})

	CacheInvalidationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_invalidation_errors_total",
		Help: "Ошибки инвалидации кэша после записи",
	}, []string{"mutation"})

	CacheKeysPurged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_keys_purged_total",
		Help: "Удалённые при инвалидации ключи",
	}, []string{"mutation"})

	ViewsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "views_recorded_total",
		Help: "Отметки просмотров по типу зрителя и результату",
	}, []string{"subject", "result"})

	RecountJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recount_jobs_total",
		Help: "Задачи пересчёта количества фактов",
	}, []string{"cause", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedBuildSeconds,
		FeedRequestsTotal,
		CacheRequestsTotal,
		CacheInvalidationErrors,
		CacheKeysPurged,
		ViewsRecordedTotal,
		RecountJobsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveFeedBuild записывает время построения ленты.
func ObserveFeedBuild(kind string, start time.Time) {
	FeedBuildSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// IncFeedRequest считает запрос ленты; source: "cache" или "built".
func IncFeedRequest(kind, source string) {
	FeedRequestsTotal.WithLabelValues(kind, source).Inc()
}

// IncCache считает обращение к кэшу.
func IncCache(operation, result string) {
	CacheRequestsTotal.WithLabelValues(operation, result).Inc()
}

// IncInvalidationError считает неудачную инвалидацию.
func IncInvalidationError(mutation string) {
	CacheInvalidationErrors.WithLabelValues(mutation).Inc()
}

// AddPurgedKeys учитывает удалённые при инвалидации ключи.
func AddPurgedKeys(mutation string, n int) {
	if n > 0 {
		CacheKeysPurged.WithLabelValues(mutation).Add(float64(n))
	}
}

// IncViewRecorded считает отметку просмотра; result: "created", "duplicate" или "error".
func IncViewRecorded(subject, result string) {
	ViewsRecordedTotal.WithLabelValues(subject, result).Inc()
}

// IncRecountJob считает обработанную задачу пересчёта.
func IncRecountJob(cause, status string) {
	RecountJobsTotal.WithLabelValues(cause, status).Inc()
}
