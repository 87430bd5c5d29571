package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// HandleFunc processes one record.
type HandleFunc func(ctx context.Context, msg kafka.Message) error

// Middleware decorates a HandleFunc. It runs once per attempt.
type Middleware func(next HandleFunc) HandleFunc

type ctxKey struct{}

// Trace copies the trace_id header into the handler context.
func Trace(next HandleFunc) HandleFunc {
	return func(ctx context.Context, msg kafka.Message) error {
		if id := ExtractTraceID(msg); id != "" {
			ctx = context.WithValue(ctx, ctxKey{}, id)
		}
		return next(ctx, msg)
	}
}

// ExtractTraceID returns the trace_id header, if present.
func ExtractTraceID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "trace_id" && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}

// TraceID returns the id stored by Trace.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// recoverPanics turns a panic anywhere below it into an error, so the
// message is retried like any other failure.
func recoverPanics(next HandleFunc) HandleFunc {
	return func(ctx context.Context, msg kafka.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return next(ctx, msg)
	}
}
