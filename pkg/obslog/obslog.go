// Package obslog wires structured logging, tracing and RED (Rate,
// Errors, Duration) metrics for the control plane's services. The
// composition root (cmd/afu9ctl) builds one Provider at startup and
// hands it to the components that use it as a struct field.
package obslog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the observability provider.
type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	SampleRate   float64
	BatchTimeout time.Duration
	Enabled      bool
	Insecure     bool
	LogLevel     string
}

// DefaultConfig returns sane development defaults: tracing/metrics
// disabled, logs to stderr at INFO.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "afu9-control-center",
		Environment:  "development",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      false,
		Insecure:     true,
		LogLevel:     "INFO",
	}
}

// Provider bundles a structured logger with optional OTel tracing and
// metrics. When Config.Enabled is false the tracer/meter are no-ops
// and only the logger is live — the common case for local dev and
// unit tests.
type Provider struct {
	config         *Config
	logger         *slog.Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	decisionCounter  metric.Int64Counter
	transitionCounter metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOps        metric.Int64UpDownCounter
}

// New builds a Provider. If cfg is nil, DefaultConfig is used.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Provider{
		config: cfg,
		logger: newSlogLogger(cfg.LogLevel).With("service", cfg.ServiceName),
	}

	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "observability exporters disabled, logging only")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obslog: build resource: %w", err)
	}

	if err := p.initTracing(ctx, res); err != nil {
		return nil, fmt.Errorf("obslog: init tracing: %w", err)
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, fmt.Errorf("obslog: init metrics: %w", err)
	}

	p.tracer = otel.Tracer("afu9.control-center")
	p.meter = otel.Meter("afu9.control-center")
	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("obslog: init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"environment", cfg.Environment, "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func newSlogLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func (p *Provider) initTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initREDMetrics() error {
	var err error
	if p.decisionCounter, err = p.meter.Int64Counter("afu9.policy.decisions",
		metric.WithDescription("Policy/PDP decisions issued"), metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.transitionCounter, err = p.meter.Int64Counter("afu9.issue.transitions",
		metric.WithDescription("Issue state machine transitions"), metric.WithUnit("{transition}")); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("afu9.operation.duration",
		metric.WithDescription("Operation duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0)); err != nil {
		return err
	}
	if p.activeOps, err = p.meter.Int64UpDownCounter("afu9.operations.active",
		metric.WithDescription("In-flight operations"), metric.WithUnit("{operation}")); err != nil {
		return err
	}
	return nil
}

// Logger returns the provider's structured logger.
func (p *Provider) Logger() *slog.Logger { return p.logger }

// Shutdown flushes and closes the tracing/metrics exporters, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown trace provider failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "shutdown meter provider failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, or a no-op tracer when
// tracing is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("afu9.control-center")
	}
	return p.tracer
}

// StartSpan starts a span under the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordDecision records a policy/PDP decision outcome.
func (p *Provider) RecordDecision(ctx context.Context, domain, decision string) {
	if p.decisionCounter == nil {
		return
	}
	p.decisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", domain), attribute.String("decision", decision)))
}

// RecordTransition records a state machine transition.
func (p *Provider) RecordTransition(ctx context.Context, from, to string) {
	if p.transitionCounter == nil {
		return
	}
	p.transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from), attribute.String("to", to)))
}

// TrackOperation starts a span plus RED bookkeeping for name, returning
// a completion func to call with the operation's terminal error (nil
// on success).
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
	if p.activeOps != nil {
		p.activeOps.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		duration := time.Since(start)
		if p.activeOps != nil {
			p.activeOps.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
