package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var tracer = otel.Tracer("github.com/atvirokodosprendimai/keyledger/internal/core/usecase")

type instrumentation struct {
	observer ports.OperationObserver
}

// start opens a span for operation. The returned func must be deferred with
// a pointer to the operation's named error result.
func (i instrumentation) start(ctx context.Context, operation, organization, code string) (context.Context, func(*error)) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("keyledger.organization", organization),
		attribute.String("keyledger.code", code),
	))

	return ctx, func(errp *error) {
		outcome := OutcomeOK
		if err := *errp; err != nil {
			outcome = OutcomeError
			if f, ok := domain.Describe(err); ok {
				outcome = string(f.Kind)
			} else {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("keyledger.outcome", outcome))
		span.End()
		if i.observer != nil {
			i.observer.ObserveOperation(operation, outcome, started)
		}
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
