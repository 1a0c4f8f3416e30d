// Package telemetry owns the OpenTelemetry meter provider and the counters
// the streaming pipeline reports through it.
package telemetry

import (
	"context"
	"errors"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/saker-ai/voicestream"

// Metrics bundles the counters shared by the session, dispatcher and
// playback engine. The zero value is not usable; call Setup or Noop.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	FramesReceived  metric.Int64Counter
	RequestsSent    metric.Int64Counter
	Reconnects      metric.Int64Counter
	ClipsPlayed     metric.Int64Counter
	DecodeFailures  metric.Int64Counter
	PlaybackErrors  metric.Int64Counter
	ConnectFailures metric.Int64Counter
}

// Setup builds a meter provider backed by a Prometheus exporter on its own
// registry. When the exporter cannot be created the counters still work but
// Handler returns nil.
func Setup(serviceName string, logger *zap.Logger) (*Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", zap.Error(err))
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		m, buildErr := newMetrics(provider.Meter(instrumentationName))
		if buildErr != nil {
			return nil, buildErr
		}
		m.provider = provider
		return m, nil
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(instrumentationName))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	m.provider = provider
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	logger.Info("telemetry initialized", zap.String("exporter", "prometheus"))
	return m, nil
}

// Noop returns counters that record nothing.
func Noop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// OrNoop lets callers accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return Noop()
	}
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m    Metrics
		errs []error
	)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			errs = append(errs, err)
		}
		return c
	}
	m.FramesReceived = counter("voicestream.frames.received", "Inbound frames by kind")
	m.RequestsSent = counter("voicestream.requests.sent", "Speak requests written to the server")
	m.Reconnects = counter("voicestream.reconnects", "Reconnect attempts scheduled after a closure")
	m.ClipsPlayed = counter("voicestream.clips.played", "Audio clips started on the output device")
	m.DecodeFailures = counter("voicestream.decode.failures", "Audio payloads that failed to decode")
	m.PlaybackErrors = counter("voicestream.playback.errors", "Clips the output device failed to play")
	m.ConnectFailures = counter("voicestream.connect.failures", "Failed connection attempts")
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Handler serves the Prometheus scrape endpoint, or nil when unavailable.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Kind returns the attribute option used to split counters by frame kind.
func Kind(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}
