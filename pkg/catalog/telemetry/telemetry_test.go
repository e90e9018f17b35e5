package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledReturnsNoopProvider(t *testing.T) {
	p, err := Setup(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	tracer := p.Tracer("catalog.test")
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop-span")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_EnabledBuildsTracerAndMetrics(t *testing.T) {
	p, err := Setup(Config{
		Enabled:        true,
		ServiceName:    "catalog-test",
		ServiceVersion: "0.0.0-test",
		Sampling:       SamplingConfig{Enabled: true, Rate: 1.0},
	})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	tracer := p.Tracer("catalog.test")
	ctx, span := tracer.Start(context.Background(), "workflow-run")
	span.SetAttributes()
	span.End()
	require.NotNil(t, ctx)

	require.NotNil(t, p.MetricsHandler())
}

func TestSetup_WithConsoleExporter(t *testing.T) {
	p, err := Setup(Config{
		Enabled:     true,
		ServiceName: "catalog-test",
		Exporters:   []ExporterConfig{{Type: "console"}},
	})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	tracer := p.Tracer("catalog.test")
	_, span := tracer.Start(context.Background(), "exported-span")
	span.End()

	require.NoError(t, p.ForceFlush(context.Background()))
}

func TestSetup_UnknownExporterType(t *testing.T) {
	_, err := Setup(Config{
		Enabled:     true,
		ServiceName: "catalog-test",
		Exporters:   []ExporterConfig{{Type: "carrier-pigeon"}},
	})
	require.Error(t, err)
}

func TestMetrics_RecordRunLifecycle(t *testing.T) {
	p, err := Setup(Config{Enabled: true, ServiceName: "catalog-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	m := p.Metrics()
	m.RecordRunStart("run-1")
	m.activeRunsMu.RLock()
	_, active := m.activeRuns["run-1"]
	m.activeRunsMu.RUnlock()
	require.True(t, active)

	m.RecordRunComplete(context.Background(), "run-1", "wf-1", "succeeded", "scheduler", time.Second)
	m.activeRunsMu.RLock()
	_, stillActive := m.activeRuns["run-1"]
	m.activeRunsMu.RUnlock()
	require.False(t, stillActive)
}

func TestMetrics_NoopIsSafeToCall(t *testing.T) {
	m := noopMetrics()
	m.RecordRunStart("run-1")
	m.RecordRunComplete(context.Background(), "run-1", "wf-1", "succeeded", "scheduler", time.Second)
	m.RecordStepComplete(context.Background(), "wf-1", "step-a", "succeeded", time.Millisecond)
	m.RecordDelivery(context.Background(), "trig-1", "launched")
	m.RecordScheduleMaterialization(context.Background(), "sched-1", false)
	m.IncrementQueueDepth()
	m.DecrementQueueDepth()
}
