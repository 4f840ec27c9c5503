// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
	"github.com/alem-hub/shadow-ranch/pkg/logger"
	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

var tracer = otel.Tracer("shadow-ranch/command")

// Deps - общие зависимости обработчиков команд.
type Deps struct {
	Store     progress.Store
	Clock     timeutil.Clock
	Publisher shared.EventPublisher
	Logger    *logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// startSpan открывает span команды с атрибутами записи.
func startSpan(ctx context.Context, name string, owner, requester progress.Authority) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("progress.authority", owner.String()),
		attribute.String("progress.requester", requester.String()),
	))
}

// endSpan закрывает span и помечает ошибку кодом отказа.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, shared.CodeOf(err))
	}
	span.End()
}

// publish отправляет события после фиксации изменений.
// Ошибки шины только логируются: запись уже сохранена.
func (d Deps) publish(ctx context.Context, events ...shared.Event) {
	if d.Publisher == nil {
		return
	}
	for _, e := range events {
		if err := d.Publisher.Publish(e); err != nil {
			d.Logger.WarnContext(ctx, "event publish failed",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}
