package telemetry

import (
	"context"
	"testing"

	"github.com/nidhogg/aibrain/internal/config"
	"go.uber.org/zap"
)

func TestSetupNone(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Exporter: ExporterNone}, "aibrain", "test", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TelemetryConfig{Exporter: "jaeger"}, "aibrain", "test", zap.NewNop()); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1:   "AlwaysOnSampler",
		0:   "AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	}
	for rate, prefix := range cases {
		got := sampler(rate).Description()
		if len(got) < len(prefix) || got[:len(prefix)] != prefix {
			t.Errorf("sampler(%v) = %q, want prefix %q", rate, got, prefix)
		}
	}
}
