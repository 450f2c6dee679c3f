package fn

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/botvagas/vagas/pkg/fn"

// ErrPanic marks a result produced from a recovered panic.
var ErrPanic = errors.New("stage panicked")

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			return Err[C](r.err)
		}
		return second(ctx, r.val)
	}
}

// Guard turns a panic inside stage into an ErrPanic result.
func Guard[In, Out any](stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) (res Result[Out]) {
		defer func() {
			if p := recover(); p != nil {
				res = Err[Out](fmt.Errorf("%w: %v", ErrPanic, p))
			}
		}()
		return stage(ctx, in)
	}
}

// TracedStage wraps a stage with OTel span creation.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if err := result.Error(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
