package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestInit_Disabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := Init(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.tp != nil || p.mp != nil {
		t.Fatal("disabled telemetry must not create providers")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("noop Shutdown: %v", err)
	}
}

func TestShutdown_NilReceiver(t *testing.T) {
	t.Parallel()

	var p *Providers
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("telemetry should be disabled by default")
	}
	if cfg.ServiceName != "wikichat" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("sample rate = %f", cfg.SampleRate)
	}
}
