// Package otel provides OpenTelemetry instrumentation for the orchestration core.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "orchid"

// Metrics reports orchestration counters through the global meter provider.
// It satisfies the orchestrator's Metrics interface.
type Metrics struct {
	tasksDispatched    metric.Int64Counter
	tasksCompleted     metric.Int64Counter
	tasksFailed        metric.Int64Counter
	delegationsGranted metric.Int64Counter
	delegationsDenied  metric.Int64Counter
	correctionsApplied metric.Int64Counter
	correctionsDenied  metric.Int64Counter
	guardFreezes       metric.Int64Counter
	wavesComputed      metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.tasksDispatched, err = meter.Int64Counter("orchid.tasks.dispatched",
		metric.WithDescription("Number of task assignments dispatched"))
	if err != nil {
		return nil, err
	}

	m.tasksCompleted, err = meter.Int64Counter("orchid.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.tasksFailed, err = meter.Int64Counter("orchid.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.delegationsGranted, err = meter.Int64Counter("orchid.delegations.granted",
		metric.WithDescription("Number of delegation requests granted"))
	if err != nil {
		return nil, err
	}

	m.delegationsDenied, err = meter.Int64Counter("orchid.delegations.denied",
		metric.WithDescription("Number of delegation requests denied"))
	if err != nil {
		return nil, err
	}

	m.correctionsApplied, err = meter.Int64Counter("orchid.corrections.applied",
		metric.WithDescription("Number of corrections accepted and applied"))
	if err != nil {
		return nil, err
	}

	m.correctionsDenied, err = meter.Int64Counter("orchid.corrections.denied",
		metric.WithDescription("Number of corrections rejected over budget"))
	if err != nil {
		return nil, err
	}

	m.guardFreezes, err = meter.Int64Counter("orchid.guard.freezes",
		metric.WithDescription("Number of guard freeze transitions"))
	if err != nil {
		return nil, err
	}

	m.wavesComputed, err = meter.Int64Counter("orchid.waves.computed",
		metric.WithDescription("Number of wave schedule computations"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskDispatched records one dispatched task assignment.
func (m *Metrics) TaskDispatched(ctx context.Context) {
	m.tasksDispatched.Add(ctx, 1)
}

// TaskCompleted records one finished task, failed or not.
func (m *Metrics) TaskCompleted(ctx context.Context, failed bool) {
	if failed {
		m.tasksFailed.Add(ctx, 1)
		return
	}
	m.tasksCompleted.Add(ctx, 1)
}

// DelegationDecided records one delegation guard decision.
func (m *Metrics) DelegationDecided(ctx context.Context, granted bool) {
	if granted {
		m.delegationsGranted.Add(ctx, 1)
		return
	}
	m.delegationsDenied.Add(ctx, 1)
}

// CorrectionDecided records one correction budget decision.
func (m *Metrics) CorrectionDecided(ctx context.Context, accepted bool) {
	if accepted {
		m.correctionsApplied.Add(ctx, 1)
		return
	}
	m.correctionsDenied.Add(ctx, 1)
}

// GuardFrozen records one guard freeze transition.
func (m *Metrics) GuardFrozen(ctx context.Context) {
	m.guardFreezes.Add(ctx, 1)
}

// WavesComputed records one wave schedule computation.
func (m *Metrics) WavesComputed(ctx context.Context) {
	m.wavesComputed.Add(ctx, 1)
}
