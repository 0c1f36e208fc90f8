package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jan-server/tools/model-updater/internal/domain/bulkupdate"
	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/utils/platformerrors"
)

const tracerName = "model-updater"

// StartSpan starts a new span with the given name and options
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetTraceID returns the trace ID from the current context
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// TracedService wraps a ModelService with one client span per call.
type TracedService struct {
	next bulkupdate.ModelService
}

func NewTracedService(next bulkupdate.ModelService) *TracedService {
	return &TracedService{next: next}
}

func (s *TracedService) ListModels(ctx context.Context) ([]model.Record, error) {
	ctx, span := StartSpan(ctx, "model_api.list_models", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	records, err := s.next.ListModels(ctx)
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", platformerrors.Kind(err)))
		RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("model.count", len(records)))
	return records, nil
}

func (s *TracedService) UpdateModel(ctx context.Context, id string, payload map[string]any) error {
	ctx, span := StartSpan(ctx, "model_api.update_model",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("model.id", id)),
	)
	defer span.End()

	if ref, ok := payload[model.FieldBaseModelID].(string); ok {
		span.SetAttributes(attribute.String("model.base_model_id", ref))
	}
	err := s.next.UpdateModel(ctx, id, payload)
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", platformerrors.Kind(err)))
		RecordError(ctx, err)
	}
	return err
}
