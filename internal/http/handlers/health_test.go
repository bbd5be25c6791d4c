package handlers

import (
	"context"
	"testing"

	"dowser/pkg/httpclient"
)

type stubBreakers struct {
	stats map[string]httpclient.BreakerStats
}

func (s stubBreakers) BreakerStats() map[string]httpclient.BreakerStats { return s.stats }

func TestHealthHandler_GetLivez(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetLivez(context.Background(), &LivezInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output == nil {
		t.Fatal("expected non-nil output")
	}

	if output.Body.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", output.Body.Status)
	}
}

func TestHealthHandler_GetReadyz(t *testing.T) {
	t.Run("relay disabled", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0")

		output, err := handler.GetReadyz(context.Background(), &ReadyzInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if output.Body.Status != "ready" {
			t.Errorf("expected status 'ready', got '%s'", output.Body.Status)
		}

		if output.Body.Components["relay"] != "disabled" {
			t.Errorf("expected relay component 'disabled', got '%s'", output.Body.Components["relay"])
		}
	})

	t.Run("relay enabled", func(t *testing.T) {
		handler := NewHealthHandler("1.0.0").WithRelayEnabled(true)

		output, err := handler.GetReadyz(context.Background(), &ReadyzInput{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if output.Body.Components["relay"] != "ok" {
			t.Errorf("expected relay component 'ok', got '%s'", output.Body.Components["relay"])
		}
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0").WithRelayEnabled(true)

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output == nil {
		t.Fatal("expected non-nil output")
	}

	if output.Body.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", output.Body.Status)
	}

	if output.Body.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", output.Body.Version)
	}

	if output.Body.Uptime == "" {
		t.Error("expected non-empty uptime")
	}

	if output.Body.CPU.Cores == 0 {
		t.Error("expected non-zero CPU cores")
	}

	if output.Body.Relay.Status != "ok" {
		t.Errorf("expected relay status 'ok', got '%s'", output.Body.Relay.Status)
	}

	if output.Body.Checks["relay"] != "ok" {
		t.Errorf("expected relay check 'ok', got '%s'", output.Body.Checks["relay"])
	}
}

func TestHealthHandler_GetHealth_DegradedWhenCircuitOpen(t *testing.T) {
	handler := NewHealthHandler("1.0.0").
		WithRelayEnabled(true).
		WithBreakers(stubBreakers{stats: map[string]httpclient.BreakerStats{
			"cdn.example.net": {State: "open", ConsecutiveFailures: 5, TotalRequests: 12, TotalFailures: 5},
			"api.example.net": {State: "closed", TotalRequests: 40},
		}})

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.Status != "degraded" {
		t.Errorf("expected status 'degraded' with an open circuit, got '%s'", output.Body.Status)
	}

	ups := output.Body.Relay.Upstreams
	if len(ups) != 2 {
		t.Fatalf("expected 2 upstreams, got %d", len(ups))
	}

	// Hosts are reported in sorted order.
	if ups[0].Host != "api.example.net" || ups[1].Host != "cdn.example.net" {
		t.Errorf("expected sorted upstream hosts, got %q then %q", ups[0].Host, ups[1].Host)
	}

	if ups[1].State != "open" || ups[1].ConsecutiveFailures != 5 {
		t.Errorf("unexpected circuit state for cdn.example.net: %+v", ups[1])
	}
}

func TestHealthHandler_GetHealth_RelayDisabled(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.Body.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", output.Body.Status)
	}

	if output.Body.Relay.Status != "disabled" {
		t.Errorf("expected relay status 'disabled', got '%s'", output.Body.Relay.Status)
	}

	if len(output.Body.Relay.Upstreams) != 0 {
		t.Errorf("expected no upstreams when relay is disabled, got %d", len(output.Body.Relay.Upstreams))
	}
}
