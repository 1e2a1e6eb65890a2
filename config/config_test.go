package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONSULT_WS_URL", "ws://localhost:8080/stream")
	t.Setenv("CONSULT_API_URL", "http://localhost:8080")
	t.Setenv("CONSULT_USER_ID", "u-1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AssistantID != "thaya-md" {
		t.Errorf("AssistantID = %q, want thaya-md", cfg.AssistantID)
	}
	if cfg.ReconnectDelay != time.Second {
		t.Errorf("ReconnectDelay = %v, want 1s", cfg.ReconnectDelay)
	}
	if cfg.ReconnectDelayMax != 5*time.Second {
		t.Errorf("ReconnectDelayMax = %v, want 5s", cfg.ReconnectDelayMax)
	}
	if cfg.ChunkInterval != 250*time.Millisecond {
		t.Errorf("ChunkInterval = %v, want 250ms", cfg.ChunkInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CONSULT_ASSISTANT", "other")
	t.Setenv("CONSULT_RECONNECT_DELAY", "2s")
	t.Setenv("CONSULT_RECONNECT_DELAY_MAX", "10s")
	t.Setenv("CONSULT_CHUNK_INTERVAL", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AssistantID != "other" {
		t.Errorf("AssistantID = %q, want other", cfg.AssistantID)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.ReconnectDelay)
	}
	if cfg.ChunkInterval != 500*time.Millisecond {
		t.Errorf("ChunkInterval = %v, want 500ms", cfg.ChunkInterval)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		omit string
	}{
		{"no websocket url", "CONSULT_WS_URL"},
		{"no api url", "CONSULT_API_URL"},
		{"no user id", "CONSULT_USER_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.omit, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load should fail without %s", tt.omit)
			}
		})
	}
}

func TestLoad_MalformedDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("CONSULT_RECONNECT_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Error("Load should reject a malformed duration instead of defaulting")
	}
}

func TestLoad_DelayCapBelowInitial(t *testing.T) {
	setRequired(t)
	t.Setenv("CONSULT_RECONNECT_DELAY", "10s")
	t.Setenv("CONSULT_RECONNECT_DELAY_MAX", "1s")

	if _, err := Load(); err == nil {
		t.Error("Load should reject a cap below the initial delay")
	}
}
