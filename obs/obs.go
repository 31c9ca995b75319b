// Package obs defines the observability vocabulary of the broker: flow,
// stage and outcome labels plus the Recorder contract flows emit through.
// Labels are enums only; secrets never enter this channel.
package obs

import "context"

// FlowKind labels the grant flow being driven.
type FlowKind string

const (
	FlowAuthorizationCode FlowKind = "authorization_code"
	FlowRefresh           FlowKind = "refresh"
	FlowClientCredentials FlowKind = "client_credentials"
)

// Stage labels a step inside a flow invocation.
type Stage string

const (
	StageStartAuthorization Stage = "start_authorization"
	StageExchangeCode       Stage = "exchange_code"
	StageFetchStore         Stage = "fetch_store"
	StageSingleflightLead   Stage = "singleflight_lead"
	StageSingleflightFollow Stage = "singleflight_follow"
	StageTokenRequest       Stage = "token_request"
	StagePersistStore       Stage = "persist_store"
	StageCompareAndSwap     Stage = "compare_and_swap"
	StageRevoke             Stage = "revoke"
)

// FlowOutcome labels how a flow invocation resolved.
type FlowOutcome string

const (
	OutcomeAttempt        FlowOutcome = "attempt"
	OutcomeSuccess        FlowOutcome = "success"
	OutcomeConflict       FlowOutcome = "conflict"
	OutcomeRevoked        FlowOutcome = "revoked"
	OutcomeTransportError FlowOutcome = "transport_error"
	OutcomeProtocolError  FlowOutcome = "protocol_error"
)

// Recorder receives flow telemetry. Implementations must be safe for
// concurrent use; every method may be called from any goroutine.
type Recorder interface {
	// StartSpan opens a span for a flow invocation and returns a context
	// carrying it plus the function that closes it.
	StartSpan(ctx context.Context, kind FlowKind, stage Stage) (context.Context, func(err error))

	// Count increments the counter for a (kind, outcome) pair.
	Count(kind FlowKind, outcome FlowOutcome)
}

// NopRecorder drops all telemetry. It is the broker default.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) StartSpan(ctx context.Context, _ FlowKind, _ Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopRecorder) Count(FlowKind, FlowOutcome) {}
