package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes recorded in parley_tasks_total.
const (
	outcomeStarted   = "started"
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

var (
	// tasksTotal counts task lifecycle transitions by outcome
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_tasks_total",
		Help: "Background tasks by outcome (started, completed, cancelled, failed)",
	}, []string{"outcome"})

	// tasksRunning tracks tasks whose function has not returned yet
	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_tasks_running",
		Help: "Background tasks currently running",
	})
)
