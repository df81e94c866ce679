package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
)

func TestNewProviderExportsWithServiceResource(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	ctx := context.Background()

	tp, err := newProvider(ctx, exporter, config.TelemetrySettings{ServiceName: "thermostat-accounts", SamplingRate: 1}, "staging")
	if err != nil {
		t.Fatalf("newProvider returned error: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "AccountService.Register")
	span.End()

	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush returned error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "AccountService.Register" {
		t.Fatalf("unexpected spans %+v", spans)
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(semconv.ServiceNameKey)] != "thermostat-accounts" {
		t.Fatalf("missing service name in %v", attrs)
	}
	if attrs[string(semconv.DeploymentEnvironmentKey)] != "staging" {
		t.Fatalf("missing deployment environment in %v", attrs)
	}
}

func TestNewProviderZeroRateDropsRootSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	ctx := context.Background()

	tp, err := newProvider(ctx, exporter, config.TelemetrySettings{ServiceName: "thermostat-accounts", SamplingRate: -3}, "test")
	if err != nil {
		t.Fatalf("newProvider returned error: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "AccountService.Authenticate")
	span.End()
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush returned error: %v", err)
	}

	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("expected no sampled spans, got %d", n)
	}
}

func TestSamplingRatioClamps(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1}
	for in, want := range cases {
		if got := samplingRatio(in); got != want {
			t.Fatalf("samplingRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
