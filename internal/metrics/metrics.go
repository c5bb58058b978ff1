package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_tasks_completed_total",
			Help: "Total number of background tasks completed",
		},
		[]string{"task_type"},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_tasks_failed_total",
			Help: "Total number of background tasks failed",
		},
		[]string{"task_type"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "portal_task_duration_seconds",
			Help: "Duration of background task execution in seconds",
		},
		[]string{"task_type"},
	)

	CollaboratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_collaborator_calls_total",
			Help: "Total number of outbound Collaborator Web API calls",
		},
		[]string{"operation", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)
)
