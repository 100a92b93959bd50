package tracer

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"voxspawn/internal/infra/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	_, span := StartSpan(context.Background(), "test.span")
	span.SetAttributes(
		StringAttr("session.name", "agent-1"),
		IntAttr("session.occupancy", 2),
	)
	SetOK(span)
	span.End()
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"})
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestAttrHelpers(t *testing.T) {
	if got := StringAttr("k", "v"); got.Key != attribute.Key("k") || got.Value.AsString() != "v" {
		t.Errorf("StringAttr = %v", got)
	}
	if got := IntAttr("occupancy", 3); got.Key != attribute.Key("occupancy") || got.Value.AsInt64() != 3 {
		t.Errorf("IntAttr = %v", got)
	}
}
