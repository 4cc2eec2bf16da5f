package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/metrics"
)

// BreakerInvoker wraps an Invoker with a circuit breaker. A GPU host that
// fails every launch (driver wedged, disk full, scripts missing) would
// otherwise burn each session's active-job slot on a doomed dispatch.
//
// Only the launch is guarded; a started invocation reports its own outcome
// through the event stream, and a long inference is not a failure.
type BreakerInvoker struct {
	inner domain.Invoker
	cb    circuitbreaker.CircuitBreaker[any]
}

func NewBreakerInvoker(inner domain.Invoker) *BreakerInvoker {
	cb := circuitbreaker.Builder[any]().
		WithFailureThreshold(3).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("circuit breaker state changed",
				"component", "inference",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.InferenceBreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()

	return &BreakerInvoker{inner: inner, cb: cb}
}

func (b *BreakerInvoker) Invoke(ctx context.Context, req domain.InvokeRequest) (<-chan domain.InvokeEvent, error) {
	if !b.cb.TryAcquirePermit() {
		metrics.InferenceBreakerRejectionsTotal.Inc()
		return nil, fmt.Errorf("inference launch refused: %w", circuitbreaker.ErrOpen)
	}

	events, err := b.inner.Invoke(ctx, req)
	if err != nil {
		b.cb.RecordError(err)
		return nil, err
	}
	b.cb.RecordSuccess()
	return events, nil
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
