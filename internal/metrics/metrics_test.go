package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/kiln/internal/metrics"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHooks_CountCellLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	cell := domain.NewCell(domain.CellKindCode, "print(1)", "", 0)
	start := time.Now()

	hooks.OnCellStart(ctx, &domain.CellEvent{Timestamp: start, SessionID: "s1", Cell: cell})
	hooks.OnCellOutput(ctx, &domain.CellEvent{Timestamp: start, SessionID: "s1", Cell: cell})
	hooks.OnCellOutput(ctx, &domain.CellEvent{Timestamp: start, SessionID: "s1", Cell: cell})

	cell.State = domain.CellStateFinished
	hooks.OnCellFinish(ctx, &domain.CellEvent{Timestamp: start.Add(50 * time.Millisecond), SessionID: "s1", Cell: cell})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CellsStarted.WithLabelValues("code")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutputsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CellsFinished.WithLabelValues("finished")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CellDuration))
}

func TestHooks_ErrorStateLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	cell := domain.NewCell(domain.CellKindCode, "boom", "", 0)
	cell.State = domain.CellStateError
	hooks.OnCellFinish(ctx, &domain.CellEvent{Timestamp: time.Now(), SessionID: "s1", Cell: cell})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CellsFinished.WithLabelValues("error")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CellsFinished.WithLabelValues("finished")))
}

func TestHooks_KernelBusyGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnStatusChange(ctx, &domain.StatusEvent{SessionID: "s1", Status: domain.KernelBusy})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KernelBusy.WithLabelValues("s1")))

	hooks.OnStatusChange(ctx, &domain.StatusEvent{SessionID: "s1", Status: domain.KernelIdle})
	assert.Equal(t, float64(0), testutil.ToFloat64(m.KernelBusy.WithLabelValues("s1")))

	// Disconnect removes the series entirely.
	hooks.OnStatusChange(ctx, &domain.StatusEvent{SessionID: "s1", Status: domain.KernelDisconnected})
	assert.Equal(t, 0, testutil.CollectAndCount(m.KernelBusy))
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	// Registering a second instance with the same names must panic.
	assert.Panics(t, func() { metrics.New(reg) })
}
