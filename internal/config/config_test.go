package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStripJSONComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no comments", `{"a": 1}`, `{"a": 1}`},
		{"line comment", "{\"a\": 1} // trailing\n", "{\"a\": 1} \n"},
		{"block comment", `{"a": /* note */ 1}`, `{"a":  1}`},
		{"comment markers in string", `{"url": "http://example.com"}`, `{"url": "http://example.com"}`},
		{"escaped quote in string", `{"a": "say \"hi\" // here"}`, `{"a": "say \"hi\" // here"}`},
		{"unterminated block", `{"a": 1} /* open`, `{"a": 1} `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(StripJSONComments([]byte(tt.input))); got != tt.want {
				t.Errorf("StripJSONComments() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.jsonc"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.MaxReconnects != 5 {
		t.Errorf("MaxReconnects = %d, want default 5", cfg.Session.MaxReconnects)
	}
	if cfg.Session.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 10s", cfg.Session.ConnectTimeout())
	}
	if !cfg.Engine.IntermediateSteps {
		t.Error("intermediate steps must default to enabled")
	}
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	content := `{
		// local overrides
		"server": {
			"duplex_url": "wss://chat.example/ws"
		},
		"session": {
			"always_on": false,
			"max_reconnects": 3
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.DuplexURL != "wss://chat.example/ws" {
		t.Errorf("DuplexURL = %q", cfg.Server.DuplexURL)
	}
	if cfg.Session.AlwaysOn {
		t.Error("always_on override not applied")
	}
	if cfg.Session.MaxReconnects != 3 {
		t.Errorf("MaxReconnects = %d, want 3", cfg.Session.MaxReconnects)
	}
	// Untouched sections keep their defaults
	if !cfg.Archive.Enabled {
		t.Error("archive default lost while layering")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"server": `},
		{"no endpoints", `{"server": {"duplex_url": "", "stream_url": ""}}`},
		{"negative timeout", `{"session": {"connect_timeout_seconds": -1}}`},
		{"negative reconnects", `{"session": {"max_reconnects": -2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.jsonc")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() must reject an invalid config")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	s := SessionConfig{ConnectTimeoutSeconds: 7, ReconnectBaseMillis: 250}
	if s.ConnectTimeout() != 7*time.Second {
		t.Errorf("ConnectTimeout() = %v", s.ConnectTimeout())
	}
	if s.ReconnectBase() != 250*time.Millisecond {
		t.Errorf("ReconnectBase() = %v", s.ReconnectBase())
	}
	a := ArchiveConfig{RetentionDays: 2}
	if a.Retention() != 48*time.Hour {
		t.Errorf("Retention() = %v", a.Retention())
	}
}
