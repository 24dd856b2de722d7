// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Client.Port != 2342 {
		t.Errorf("Client.Port = %d, want 2342", cfg.Client.Port)
	}
	if cfg.Client.RefreshInterval != 50*time.Millisecond {
		t.Errorf("Client.RefreshInterval = %v, want 50ms", cfg.Client.RefreshInterval)
	}
	if cfg.Client.Tick != 5*time.Millisecond {
		t.Errorf("Client.Tick = %v, want 5ms", cfg.Client.Tick)
	}
	if cfg.Client.WriteTimeout != 100*time.Millisecond {
		t.Errorf("Client.WriteTimeout = %v, want 100ms", cfg.Client.WriteTimeout)
	}
	if cfg.Transport.Kind != TransportTCP {
		t.Errorf("Transport.Kind = %s, want tcp", cfg.Transport.Kind)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
client:
  port: 4000
  refresh_interval: 100ms
  auto_start: true
transport:
  kind: ws
  ws_path: /bridge
  ws_username: pilot
log:
  level: debug
  format: json
metrics:
  enabled: true
  address: ":9100"
recording:
  path: ./flight.cbor
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Client.Port != 4000 {
		t.Errorf("Client.Port = %d, want 4000", cfg.Client.Port)
	}
	if cfg.Client.RefreshInterval != 100*time.Millisecond {
		t.Errorf("Client.RefreshInterval = %v, want 100ms", cfg.Client.RefreshInterval)
	}
	if cfg.Client.Tick != 5*time.Millisecond {
		t.Errorf("Client.Tick should keep its default, got %v", cfg.Client.Tick)
	}
	if !cfg.Client.AutoStart {
		t.Error("Client.AutoStart should be true")
	}
	if cfg.Transport.Kind != TransportWebSocket || cfg.Transport.WSPath != "/bridge" {
		t.Errorf("Transport = %+v", cfg.Transport)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9100" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Recording.Path != "./flight.cbor" {
		t.Errorf("Recording.Path = %s", cfg.Recording.Path)
	}
}

func TestParse_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad port", "client:\n  port: 70000\n", "client.port"},
		{"refresh below tick", "client:\n  refresh_interval: 1ms\n", "refresh_interval"},
		{"zero write timeout", "client:\n  write_timeout: 0s\n", "write_timeout"},
		{"bad transport", "transport:\n  kind: carrier_pigeon\n", "transport.kind"},
		{"serial without port", "transport:\n  kind: serial\n", "serial_port"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"metrics without address", "metrics:\n  enabled: true\n  address: \"\"\n", "metrics.address"},
		{"invalid yaml", "client: [\n", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("KSPETH_TEST_PORT", "5555")

	cfg, err := Parse([]byte("client:\n  port: ${KSPETH_TEST_PORT}\nlog:\n  level: ${KSPETH_UNSET_LEVEL:-warn}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Client.Port != 5555 {
		t.Errorf("Client.Port = %d, want 5555", cfg.Client.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kspeth.yaml")
	if err := os.WriteFile(path, []byte("client:\n  port: 2400\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.Port != 2400 {
		t.Errorf("Client.Port = %d, want 2400", cfg.Client.Port)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestString(t *testing.T) {
	out := Default().String()
	if !strings.Contains(out, "port: 2342") {
		t.Errorf("expected port in YAML output:\n%s", out)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Client.RefreshInterval = 100 * time.Millisecond
	cfg.Transport.Kind = TransportWebSocket
	cfg.Transport.WSUsername = "pilot"
	cfg.Metrics.Enabled = true

	path := filepath.Join(t.TempDir(), "nested", "kspeth.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Client.RefreshInterval != 100*time.Millisecond {
		t.Errorf("RefreshInterval = %v, want 100ms", loaded.Client.RefreshInterval)
	}
	if loaded.Transport.Kind != TransportWebSocket || loaded.Transport.WSUsername != "pilot" {
		t.Errorf("Transport = %+v", loaded.Transport)
	}
	if !loaded.Metrics.Enabled {
		t.Error("Metrics.Enabled lost in round trip")
	}
}
