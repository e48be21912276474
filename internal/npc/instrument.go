package npc

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/npcforge/internal/observe"
)

// Instrument wraps s so every call records a span, the
// npcforge.store.operations counter and the npcforge.store.duration
// histogram. m may be nil, in which case only spans are recorded.
func Instrument(s Store, m *observe.Metrics) Store {
	return &instrumented{next: s, metrics: m}
}

type instrumented struct {
	next    Store
	metrics *observe.Metrics
}

func (s *instrumented) List(ctx context.Context) ([]NPC, error) {
	ctx, done := s.start(ctx, "list", "")
	out, err := s.next.List(ctx)
	done(err)
	return out, err
}

func (s *instrumented) Get(ctx context.Context, id string) (NPC, error) {
	ctx, done := s.start(ctx, "get", id)
	n, err := s.next.Get(ctx, id)
	done(err)
	return n, err
}

func (s *instrumented) Create(ctx context.Context, f Fields) (NPC, error) {
	ctx, done := s.start(ctx, "create", "")
	n, err := s.next.Create(ctx, f)
	done(err)
	return n, err
}

func (s *instrumented) Update(ctx context.Context, id string, p Patch) (NPC, error) {
	ctx, done := s.start(ctx, "update", id)
	n, err := s.next.Update(ctx, id, p)
	done(err)
	return n, err
}

func (s *instrumented) Delete(ctx context.Context, id string) error {
	ctx, done := s.start(ctx, "delete", id)
	err := s.next.Delete(ctx, id)
	done(err)
	return err
}

// start opens a span for op and returns a func that ends it and records the
// outcome. A not-found result is not a span error.
func (s *instrumented) start(ctx context.Context, op, id string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{attribute.String("npc.op", op)}
	if id != "" {
		attrs = append(attrs, attribute.String("npc.id", id))
	}
	ctx, span := observe.StartSpan(ctx, "npc.store."+op, trace.WithAttributes(attrs...))
	begin := time.Now()

	return ctx, func(err error) {
		status := "ok"
		spanErr := err
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			status = "not_found"
			spanErr = nil
		default:
			status = "error"
			observe.Logger(ctx).Warn("store operation failed", "op", op, "error", err)
		}
		s.metrics.RecordStoreOperation(ctx, op, status, time.Since(begin))
		observe.EndSpan(span, spanErr)
	}
}
