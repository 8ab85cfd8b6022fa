// Package metrics exposes Prometheus instrumentation for kernel sessions,
// bridged into the engine through lifecycle hooks.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	CellsStarted  *prometheus.CounterVec
	CellsFinished *prometheus.CounterVec
	CellDuration  prometheus.Histogram
	OutputsTotal  prometheus.Counter
	KernelBusy    *prometheus.GaugeVec
	Restarts      prometheus.Counter

	mu     sync.Mutex
	starts map[string]time.Time // cell ID -> start time
}

// New creates the collectors and registers them with the registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CellsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_cells_started_total",
				Help: "Total number of cell executions started",
			},
			[]string{"kind"},
		),
		CellsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_cells_finished_total",
				Help: "Total number of cell executions reaching a terminal state",
			},
			[]string{"state"},
		),
		CellDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kiln_cell_duration_seconds",
				Help:    "Wall time of cell executions",
				Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 12),
			},
		),
		OutputsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kiln_cell_outputs_total",
				Help: "Total number of outputs observed across all cells",
			},
		),
		KernelBusy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kiln_kernel_busy",
				Help: "Whether the kernel for a session is currently busy",
			},
			[]string{"session_id"},
		),
		Restarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kiln_kernel_restarts_total",
				Help: "Total number of kernel restarts",
			},
		),
		starts: make(map[string]time.Time),
	}
	reg.MustRegister(
		m.CellsStarted,
		m.CellsFinished,
		m.CellDuration,
		m.OutputsTotal,
		m.KernelBusy,
		m.Restarts,
	)
	return m
}

// Hooks returns lifecycle hooks that feed the collectors. Merge them with
// any caller-supplied hooks before constructing the engine.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnCellStart: func(ctx context.Context, e *domain.CellEvent) {
			m.CellsStarted.WithLabelValues(string(e.Cell.Kind)).Inc()
			m.mu.Lock()
			m.starts[e.Cell.ID] = e.Timestamp
			m.mu.Unlock()
		},
		OnCellOutput: func(ctx context.Context, e *domain.CellEvent) {
			m.OutputsTotal.Inc()
		},
		OnCellFinish: func(ctx context.Context, e *domain.CellEvent) {
			m.CellsFinished.WithLabelValues(string(e.Cell.State)).Inc()

			m.mu.Lock()
			started, ok := m.starts[e.Cell.ID]
			delete(m.starts, e.Cell.ID)
			m.mu.Unlock()
			if ok {
				m.CellDuration.Observe(e.Timestamp.Sub(started).Seconds())
			}
		},
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			switch e.Status {
			case domain.KernelBusy:
				m.KernelBusy.WithLabelValues(e.SessionID).Set(1)
			case domain.KernelDisconnected:
				m.KernelBusy.DeleteLabelValues(e.SessionID)
			default:
				m.KernelBusy.WithLabelValues(e.SessionID).Set(0)
			}
		},
	}
}
