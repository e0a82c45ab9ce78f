package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer every mnemo span is started from
const TracerName = "mnemo"

// Attribute keys attached to the resource and to spans
const (
	AttrStoreDriver    = attribute.Key("mnemo.store.driver")
	AttrEmbeddingModel = attribute.Key("mnemo.embedding.model")
	AttrRunID          = attribute.Key("mnemo.run_id")
	AttrCommand        = attribute.Key("mnemo.command")
	AttrSource         = attribute.Key("mnemo.source")
)

// Service describes the running process for the trace resource
type Service struct {
	Name           string
	Version        string
	StoreDriver    string
	EmbeddingModel string
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// resourceAttributes lists the non-empty attributes of svc
func resourceAttributes(svc Service) []attribute.KeyValue {
	name := svc.Name
	if name == "" {
		name = TracerName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if svc.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(svc.Version))
	}
	if svc.StoreDriver != "" {
		attrs = append(attrs, AttrStoreDriver.String(svc.StoreDriver))
	}
	if svc.EmbeddingModel != "" {
		attrs = append(attrs, AttrEmbeddingModel.String(svc.EmbeddingModel))
	}
	return attrs
}

// InitOpenTelemetry installs the process-wide tracer provider for svc.
// Only the first call has an effect.
func InitOpenTelemetry(svc Service) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(resourceAttributes(svc)...),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// contextAttributes turns the identifiers carried by ctx into span attributes
func contextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if v := GetRunID(ctx); v != "" {
		attrs = append(attrs, AttrRunID.String(v))
	}
	if v := GetCommand(ctx); v != "" {
		attrs = append(attrs, AttrCommand.String(v))
	}
	if v := GetSource(ctx); v != "" {
		attrs = append(attrs, AttrSource.String(v))
	}
	return attrs
}

// StartSpan starts a mnemo span tagged with the identifiers carried by ctx.
// The span's trace ID is recorded in the context when none is set.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(contextAttributes(ctx), attrs...)
	ctx, span := otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
