// Package promobs emits broker flow outcomes as Prometheus counters.
package promobs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hack-ink/oauth2-broker/obs"
)

// Recorder increments oauth2_broker_flow_total per (flow, outcome) pair.
// Spans are not this recorder's concern; pair it with otelobs when both
// signals are wanted.
type Recorder struct {
	flows *prometheus.CounterVec
}

var _ obs.Recorder = (*Recorder)(nil)

// New registers the flow counter with the provided registerer; pass
// prometheus.DefaultRegisterer for the common case.
func New(registerer prometheus.Registerer) (*Recorder, error) {
	flows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2_broker_flow_total",
		Help: "Broker flow invocations by flow kind and outcome.",
	}, []string{"flow", "outcome"})

	if err := registerer.Register(flows); err != nil {
		return nil, err
	}
	return &Recorder{flows: flows}, nil
}

// StartSpan implements obs.Recorder as a no-op.
func (r *Recorder) StartSpan(ctx context.Context, _ obs.FlowKind, _ obs.Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Count implements obs.Recorder.
func (r *Recorder) Count(kind obs.FlowKind, outcome obs.FlowOutcome) {
	r.flows.WithLabelValues(string(kind), string(outcome)).Inc()
}
