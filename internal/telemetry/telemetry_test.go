package telemetry_test

import (
	"context"
	"testing"

	"emberguide.ai/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv(telemetry.EnvEndpoint, "")
	t.Setenv(telemetry.EnvEnabled, "")

	shutdown, err := telemetry.Setup(context.Background(), "nowcast-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenDisabled(t *testing.T) {
	t.Setenv(telemetry.EnvEndpoint, "http://localhost:4318")
	t.Setenv(telemetry.EnvEnabled, "FALSE")

	shutdown, err := telemetry.Setup(context.Background(), "nowcast-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_ProviderWhenEndpointSet(t *testing.T) {
	// Non-routable; nothing is exported because no spans are started.
	t.Setenv(telemetry.EnvEndpoint, "http://192.0.2.1:4318")
	t.Setenv(telemetry.EnvEnabled, "")

	shutdown, err := telemetry.Setup(context.Background(), "nowcast-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
