package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracedLLM wraps chat requests in a trace span for request observability.
type tracedLLM struct {
	next   CoreLLM
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that adds a trace span around each
// chat request, carrying the service name, model, and attachment count as
// span attributes.
func TracingMiddleware(serviceName string) Middleware {
	tracer := otel.Tracer(serviceName)
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			next:   next,
			tracer: tracer,
		}
	}
}

// DoRequest executes the request within a trace span, recording the error
// on failure.
func (t *tracedLLM) DoRequest(ctx context.Context, req Request) (string, error) {
	ctx, span := t.tracer.Start(ctx, "llm.chat",
		trace.WithAttributes(
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Int("llm.prompt.length", len(req.User)),
			attribute.Int("llm.images", len(req.Images)),
		),
	)
	defer span.End()

	response, err := t.next.DoRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("llm.response.length", len(response)))
	return response, nil
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
