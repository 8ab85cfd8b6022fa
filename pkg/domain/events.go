package domain

import (
	"context"
	"time"
)

// CellEvent describes one step of a cell's execution lifecycle.
type CellEvent struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Cell      *Cell     `json:"cell"`
}

// StatusEvent describes a kernel status transition.
type StatusEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Status    KernelStatus `json:"status"`
}

// LifecycleHooks defines callbacks for engine observability.
// All fields are optional; nil hooks are skipped.
type LifecycleHooks struct {
	OnCellStart    func(context.Context, *CellEvent)
	OnCellOutput   func(context.Context, *CellEvent)
	OnCellFinish   func(context.Context, *CellEvent)
	OnStatusChange func(context.Context, *StatusEvent)
}

// Merge combines two hook sets; both callbacks fire, h first.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnCellStart:    mergeCellHook(h.OnCellStart, other.OnCellStart),
		OnCellOutput:   mergeCellHook(h.OnCellOutput, other.OnCellOutput),
		OnCellFinish:   mergeCellHook(h.OnCellFinish, other.OnCellFinish),
		OnStatusChange: mergeStatusHook(h.OnStatusChange, other.OnStatusChange),
	}
}

func mergeCellHook(a, b func(context.Context, *CellEvent)) func(context.Context, *CellEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *CellEvent) {
		a(ctx, ev)
		b(ctx, ev)
	}
}

func mergeStatusHook(a, b func(context.Context, *StatusEvent)) func(context.Context, *StatusEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *StatusEvent) {
		a(ctx, ev)
		b(ctx, ev)
	}
}
