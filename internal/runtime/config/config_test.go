package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	conf := Default()
	if err := conf.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
	if conf.MetricsNamespace != "relay" || conf.Name != "relay" {
		t.Fatalf("unexpected defaults: %+v", conf)
	}
	if conf.StoreResetClearsReadiness {
		t.Fatal("expected reset to keep readiness by default")
	}
}

func TestValidateConfigNil(t *testing.T) {
	if err := ValidateConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestValidateMetrics(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr string
	}{
		{name: "disabled without namespace", conf: Config{}},
		{name: "enabled without namespace", conf: Config{MetricsEnabled: true}, wantErr: "namespace is required"},
		{name: "invalid namespace", conf: Config{MetricsNamespace: "my-bus"}, wantErr: "invalid namespace"},
		{name: "valid namespace", conf: Config{MetricsEnabled: true, MetricsNamespace: "my_bus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	conf := Config{
		MetricsEnabled:   true,
		BridgeAckTimeout: Duration{-time.Second},
	}
	err := conf.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "metrics:") || !strings.Contains(msg, "bridge:") {
		t.Fatalf("expected both errors to be reported, got %q", msg)
	}
}

func TestParse(t *testing.T) {
	conf, err := Parse(`
name = "orders"
metrics_enabled = true
metrics_namespace = "orders_bus"
tracing_enabled = true
store_reset_clears_readiness = true
bridge_ack_timeout = "250ms"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Name != "orders" || !conf.MetricsEnabled || conf.MetricsNamespace != "orders_bus" {
		t.Fatalf("unexpected config: %+v", conf)
	}
	if !conf.TracingEnabled || !conf.StoreResetClearsReadiness {
		t.Fatalf("expected boolean flags to be set: %+v", conf)
	}
	if conf.BridgeAckTimeout.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected ack timeout %v", conf.BridgeAckTimeout)
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	conf, err := Parse(`tracing_enabled = true`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.MetricsNamespace != "relay" {
		t.Fatalf("expected default namespace, got %q", conf.MetricsNamespace)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	if _, err := Parse(`bridge_ack_timeout = "soon"`); err == nil {
		t.Fatal("expected decode error for invalid duration")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("name = \"from-file\"\nmetrics_namespace = \"bad-name\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid namespace") {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := os.WriteFile(path, []byte("name = \"from-file\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.Name != "from-file" {
		t.Fatalf("unexpected name %q", conf.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigString(t *testing.T) {
	str := Config{Name: "orders", MetricsNamespace: "relay"}.String()
	if !strings.Contains(str, "orders") || !strings.Contains(str, "MetricsNamespace:relay") {
		t.Fatalf("unexpected string form %q", str)
	}
}
