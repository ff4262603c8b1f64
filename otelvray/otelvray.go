// Package otelvray provides OpenTelemetry metrics for the render client.
// It implements the [vrayzmq.Hook] interface and records frame counters
// and byte counters by control code and direction.
//
// Usage:
//
//	hook, err := otelvray.NewHook(otelvray.DefaultConfig())
//	client := vrayzmq.New(false, vrayzmq.WithHook(hook))
package otelvray

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/frame"
)

const instrumentationName = "vrayzmq"

// Config configures the instrumentation.
type Config struct {
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// CustomAttributes are added to every measurement.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig resolves the meter from the global OTel SDK.
func DefaultConfig() Config { return Config{} }

// Hook records client wire activity as OTel metrics. It is safe to share
// between the exporter and heartbeat clients of one connection.
type Hook struct {
	attrs []attribute.KeyValue

	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	framesDropped  metric.Int64Counter
	bytesSent      metric.Int64Counter
	bytesReceived  metric.Int64Counter
	connects       metric.Int64Counter
	stops          metric.Int64Counter
}

// NewHook builds the instruments.
func NewHook(cfg Config) (*Hook, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)

	h := &Hook{attrs: cfg.CustomAttributes}
	var err error
	if h.framesSent, err = meter.Int64Counter("vrayzmq.client.frames_sent",
		metric.WithUnit("{frame}"),
		metric.WithDescription("Frames handed to the transport"),
	); err != nil {
		return nil, err
	}
	if h.framesReceived, err = meter.Int64Counter("vrayzmq.client.frames_received",
		metric.WithUnit("{frame}"),
		metric.WithDescription("Well-formed frames received"),
	); err != nil {
		return nil, err
	}
	if h.framesDropped, err = meter.Int64Counter("vrayzmq.client.frames_dropped",
		metric.WithUnit("{frame}"),
		metric.WithDescription("Inbound frames discarded as malformed or mismatched"),
	); err != nil {
		return nil, err
	}
	if h.bytesSent, err = meter.Int64Counter("vrayzmq.client.bytes_sent",
		metric.WithUnit("By"),
		metric.WithDescription("Payload bytes handed to the transport"),
	); err != nil {
		return nil, err
	}
	if h.bytesReceived, err = meter.Int64Counter("vrayzmq.client.bytes_received",
		metric.WithUnit("By"),
		metric.WithDescription("Payload bytes received"),
	); err != nil {
		return nil, err
	}
	if h.connects, err = meter.Int64Counter("vrayzmq.client.connects",
		metric.WithUnit("{connection}"),
		metric.WithDescription("Completed handshakes"),
	); err != nil {
		return nil, err
	}
	if h.stops, err = meter.Int64Counter("vrayzmq.client.stops",
		metric.WithUnit("{stop}"),
		metric.WithDescription("Worker terminations"),
	); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hook) withCode(code frame.Code) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("control", code.String()),
	}, h.attrs...)
	return metric.WithAttributes(attrs...)
}

// OnConnected implements vrayzmq.Hook.
func (h *Hook) OnConnected(role frame.Role) {
	attrs := append([]attribute.KeyValue{
		attribute.String("role", role.String()),
	}, h.attrs...)
	h.connects.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// OnFrameSent implements vrayzmq.Hook.
func (h *Hook) OnFrameSent(code frame.Code, payloadBytes int) {
	ctx := context.Background()
	opt := h.withCode(code)
	h.framesSent.Add(ctx, 1, opt)
	h.bytesSent.Add(ctx, int64(payloadBytes), opt)
}

// OnFrameReceived implements vrayzmq.Hook.
func (h *Hook) OnFrameReceived(code frame.Code, payloadBytes int) {
	ctx := context.Background()
	opt := h.withCode(code)
	h.framesReceived.Add(ctx, 1, opt)
	h.bytesReceived.Add(ctx, int64(payloadBytes), opt)
}

// OnFrameDropped implements vrayzmq.Hook.
func (h *Hook) OnFrameDropped(reason string) {
	attrs := append([]attribute.KeyValue{
		attribute.String("reason", reason),
	}, h.attrs...)
	h.framesDropped.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// OnStopped implements vrayzmq.Hook.
func (h *Hook) OnStopped() {
	h.stops.Add(context.Background(), 1, metric.WithAttributes(h.attrs...))
}
