package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queueDepth — число задач, ожидающих выполнения.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signing_task_queue_depth",
		Help: "Количество задач в очереди",
	})

	// tasksProcessed — попытки выполнения задач по типу и исходу (ok, retry, dead).
	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signing_task_queue_processed_total",
			Help: "Количество выполненных попыток задач очереди",
		},
		[]string{"type", "outcome"},
	)
)
