package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

const instrumentationName = "mini-jsonrpc"

// TracingOption configures the Tracing middleware.
type TracingOption func(*tracingConfig)

type tracingConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	skipMethods    map[string]bool
}

// WithTracerProvider sets the tracer provider; the global one is used by default.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *tracingConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider; the global one is used by default.
func WithMeterProvider(mp metric.MeterProvider) TracingOption {
	return func(c *tracingConfig) {
		c.meterProvider = mp
	}
}

// WithServiceName sets the service.name attribute.
func WithServiceName(name string) TracingOption {
	return func(c *tracingConfig) {
		c.serviceName = name
	}
}

// WithSkipMethods excludes methods from tracing and metrics.
func WithSkipMethods(methods ...string) TracingOption {
	return func(c *tracingConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// Tracing starts a server span per request and records request count, error count
// and latency.
func Tracing(opts ...TracingOption) Middleware {
	cfg := &tracingConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		serviceName:    "jsonrpc-server",
		skipMethods:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tracer := cfg.tracerProvider.Tracer(instrumentationName)
	meter := cfg.meterProvider.Meter(instrumentationName)

	requests, _ := meter.Int64Counter("jsonrpc.server.requests",
		metric.WithDescription("Total number of JSON-RPC requests"),
		metric.WithUnit("{request}"),
	)
	failures, _ := meter.Int64Counter("jsonrpc.server.errors",
		metric.WithDescription("Total number of failed JSON-RPC requests"),
		metric.WithUnit("{error}"),
	)
	latency, _ := meter.Float64Histogram("jsonrpc.server.duration",
		metric.WithDescription("Duration of JSON-RPC requests"),
		metric.WithUnit("ms"),
	)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (any, error) {
			if cfg.skipMethods[req.Method] {
				return next(ctx, req)
			}

			attrs := []attribute.KeyValue{
				attribute.String("rpc.system", "jsonrpc"),
				attribute.String("rpc.method", req.Method),
				attribute.String("service.name", cfg.serviceName),
			}
			ctx, span := tracer.Start(ctx, "jsonrpc."+req.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			span.SetAttributes(attribute.Bool("rpc.jsonrpc.notification", req.IsNotification()))

			requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			start := time.Now()

			result, err := next(ctx, req)

			latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrs...))

			if err == nil {
				span.SetStatus(codes.Ok, "")
				return result, nil
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			var rpcErr *rpcerror.Error
			if errors.As(err, &rpcErr) {
				if code, _, ok := rpcerror.CodeFor(rpcErr.Kind); ok {
					attrs = append(attrs, attribute.Int("rpc.jsonrpc.error_code", code))
					span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
				}
			}
			failures.Add(ctx, 1, metric.WithAttributes(attrs...))
			return result, err
		}
	}
}
