package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration — длительность запросов к сервису валидации.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signing_validation_request_duration_seconds",
			Help:    "Длительность запросов к сервису валидации подписей",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"operation", "outcome"},
	)

	// tokenRefreshTotal — число запросов OAuth-токена.
	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_validation_token_refresh_total",
			Help: "Количество запросов OAuth-токена сервиса валидации",
		},
		[]string{"outcome"},
	)
)
