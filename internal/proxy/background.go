package proxy

import (
	"context"
	"log/slog"

	"github.com/volantir/volantir/internal/logger"
)

// spawn hands a continuation to the fire-and-forget scheduler. The goroutine
// is detached from the request's lifetime: it inherits the server context's
// values but not its cancellation, and is never awaited. A fresh trace id is
// attached so the continuation's log lines correlate.
func (s *server) spawn(name, exchangeID string, fn func(ctx context.Context)) {
	s.metrics.continuationsSpawned.Inc()
	ctx, _, _ := logger.WithTraceAndSpan(context.WithoutCancel(s.ctx))
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("continuation panic", "route", name, "exchange", exchangeID, "panic", r)
			}
		}()
		fn(ctx)
	}()
}

// runStep executes one isolated persistence step of a continuation. A
// failure is counted and logged but never stops the sibling steps.
func runStep(ctx context.Context, log *slog.Logger, metrics *relayMetrics, step string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		if metrics != nil {
			metrics.persistenceFailures.WithLabelValues(step).Inc()
		}
		log.Error("persistence step failed", "step", step, "error", err)
	}
}
