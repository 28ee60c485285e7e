// Package otel exports extension observability signals through OpenTelemetry.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/anther/extension"
)

// ExtensionObserver records extension lifecycle, invocation, and health
// signals into OpenTelemetry.
type ExtensionObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	transitions metric.Int64Counter
	health      metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewExtensionObserver creates an observer bound to the provided meter/tracer.
func NewExtensionObserver(meter metric.Meter, tracer trace.Tracer) (*ExtensionObserver, error) {
	invocations, err := meter.Int64Counter(
		"anther.extension.invocations",
		metric.WithDescription("Number of extension tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter(
		"anther.extension.transitions",
		metric.WithDescription("Number of extension state transitions"),
	)
	if err != nil {
		return nil, err
	}
	health, err := meter.Int64Counter(
		"anther.extension.health.checks",
		metric.WithDescription("Number of extension health probes"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"anther.extension.latency",
		metric.WithDescription("Extension call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ExtensionObserver{
		tracer:      tracer,
		invocations: invocations,
		transitions: transitions,
		health:      health,
		latency:     latency,
	}, nil
}

// ObserveInvoke records one tool invocation result.
func (o *ExtensionObserver) ObserveInvoke(observation extension.InvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("extension_id", observation.ExtensionID),
		attribute.String("tool", observation.Tool),
		attribute.String("kind", string(observation.Kind)),
		attribute.Bool("success", observation.Success),
		attribute.Bool("timed_out", observation.TimedOut),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, float64(time.Duration(observation.DurationMS)*time.Millisecond)/float64(time.Second), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "extension.invoke", trace.WithAttributes(attrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObserveLifecycle records one extension state transition.
func (o *ExtensionObserver) ObserveLifecycle(observation extension.LifecycleObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("extension_id", observation.ExtensionID),
		attribute.String("kind", string(observation.Kind)),
		attribute.String("from", string(observation.From)),
		attribute.String("to", string(observation.To)),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}
	o.transitions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ObserveHealth records one background health-probe result.
func (o *ExtensionObserver) ObserveHealth(observation extension.HealthObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("extension_id", observation.ExtensionID),
		attribute.String("kind", string(observation.Kind)),
		attribute.Bool("healthy", observation.Healthy),
		attribute.Int("failure_count", observation.FailureCount),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.health.Add(ctx, 1, options)
	o.latency.Record(ctx, float64(time.Duration(observation.DurationMS)*time.Millisecond)/float64(time.Second), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "extension.health.check", trace.WithAttributes(attrs...))
	if !observation.Healthy {
		span.SetStatus(codes.Error, observation.ErrorCode)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ extension.Observer = (*ExtensionObserver)(nil)
