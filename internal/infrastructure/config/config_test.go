package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a default config with the required fields filled in.
func validConfig() *Config {
	cfg := Default()
	cfg.MQTT.MachineID = "m-17"
	cfg.Exmebus.Port = 5000
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  machine_id: "m-17"
  topic_prefix: "plant/"
exmebus:
  port: 5000
gateway:
  inbox_size: 10
  lenient_values: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Exmebus.Port != 5000 {
		t.Errorf("Exmebus.Port = %d, want 5000", cfg.Exmebus.Port)
	}
	if cfg.Gateway.InboxSize != 10 || !cfg.Gateway.LenientValues {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	// Unset keys keep their defaults.
	if cfg.Exmebus.Host != "127.0.0.1" {
		t.Errorf("Exmebus.Host = %q, want default 127.0.0.1", cfg.Exmebus.Host)
	}
	if !cfg.MQTT.Resubscribe {
		t.Error("MQTT.Resubscribe = false, want default true")
	}
	if got := cfg.SubscribeTopic(); got != "plant/m-17/json" {
		t.Errorf("SubscribeTopic() = %q", got)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("", func(c *Config) {
		c.MQTT.MachineID = "abc"
		c.Exmebus.Port = 6000
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClientID() != "mac_id_abc_6000" {
		t.Errorf("ClientID() = %q", cfg.ClientID())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  machine_id: "m-1"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "exmebus.port") {
		t.Errorf("Load() error = %v, want exmebus.port validation error", err)
	}
}

func TestLoad_OverridesAfterEnv(t *testing.T) {
	t.Setenv("EXMEBUS_EXMEBUS_PORT", "7000")
	t.Setenv("EXMEBUS_MQTT_MACHINE_ID", "from-env")

	cfg, err := Load("", func(c *Config) { c.Exmebus.Port = 7001 })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Exmebus.Port != 7001 {
		t.Errorf("Exmebus.Port = %d, want flag value 7001", cfg.Exmebus.Port)
	}
	if cfg.MQTT.MachineID != "from-env" {
		t.Errorf("MQTT.MachineID = %q, want from-env", cfg.MQTT.MachineID)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid config", modify: func(*Config) {}},
		{name: "missing machine id", modify: func(c *Config) { c.MQTT.MachineID = "" }, wantErr: "mqtt.machine_id"},
		{name: "wildcard machine id", modify: func(c *Config) { c.MQTT.MachineID = "m/+" }, wantErr: "mqtt.machine_id"},
		{name: "invalid QoS", modify: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid broker port", modify: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: "mqtt.broker.port"},
		{name: "missing collector port", modify: func(c *Config) { c.Exmebus.Port = 0 }, wantErr: "exmebus.port"},
		{name: "collector port high", modify: func(c *Config) { c.Exmebus.Port = 70000 }, wantErr: "exmebus.port"},
		{name: "unknown mode", modify: func(c *Config) { c.Gateway.Mode = "xml" }, wantErr: "gateway.mode"},
		{name: "redi mode", modify: func(c *Config) { c.Gateway.Mode = ModeRedi }},
		{name: "zero inbox", modify: func(c *Config) { c.Gateway.InboxSize = 0 }, wantErr: "gateway.inbox_size"},
		{name: "negative attempts", modify: func(c *Config) { c.Gateway.MaxReconnectAttempts = -1 }, wantErr: "max_reconnect_attempts"},
		{name: "spool without path", modify: func(c *Config) {
			c.Spool.Enabled = true
			c.Spool.Path = ""
		}, wantErr: "spool.path"},
		{name: "influx without bucket", modify: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = "http://localhost:8086"
			c.InfluxDB.Org = "org"
		}, wantErr: "influxdb"},
		{name: "metrics bad port", modify: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = -1
		}, wantErr: "metrics.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() on defaults expected error")
	}
	for _, want := range []string{"mqtt.machine_id", "exmebus.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := validConfig()

	if got := cfg.SubscribeTopic(); got != "incoming/machine/m-17/json" {
		t.Errorf("SubscribeTopic() = %q", got)
	}
	cfg.Gateway.Mode = ModeRedi
	if got := cfg.SubscribeTopic(); got != "incoming/machine/m-17" {
		t.Errorf("SubscribeTopic() redi = %q", got)
	}

	if got := cfg.ClientID(); got != "mac_id_m-17_5000" {
		t.Errorf("ClientID() = %q", got)
	}
	cfg.MQTT.Broker.ClientID = "fixed"
	if got := cfg.ClientID(); got != "fixed" {
		t.Errorf("ClientID() with explicit id = %q", got)
	}

	if got := cfg.WillTopic(); got != "status" {
		t.Errorf("WillTopic() = %q", got)
	}
	if got := cfg.WillPayload(); got != "m-17 on port 5000 lost connection" {
		t.Errorf("WillPayload() = %q", got)
	}
	if got := cfg.CollectorAddress(); got != "127.0.0.1:5000" {
		t.Errorf("CollectorAddress() = %q", got)
	}
	if got := cfg.Metrics.Address(); got != "127.0.0.1:9464" {
		t.Errorf("Metrics.Address() = %q", got)
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := validConfig()

	if got := cfg.GetConnectTimeout(); got != 5*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetWriteTimeout(); got != time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 1s", got)
	}
	if got := cfg.GetReconnectInterval(); got != time.Second {
		t.Errorf("GetReconnectInterval() = %v, want 1s", got)
	}
	if got := cfg.MQTT.GetKeepAlive(); got != time.Minute {
		t.Errorf("MQTT.GetKeepAlive() = %v, want 1m", got)
	}
	if got := cfg.InfluxDB.GetFlushInterval(); got != 10*time.Second {
		t.Errorf("InfluxDB.GetFlushInterval() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("EXMEBUS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("EXMEBUS_MQTT_PORT", "8883")
	t.Setenv("EXMEBUS_MQTT_USERNAME", "testuser")
	t.Setenv("EXMEBUS_MQTT_PASSWORD", "testpass")
	t.Setenv("EXMEBUS_EXMEBUS_HOST", "10.0.0.2")
	t.Setenv("EXMEBUS_GATEWAY_MODE", "redi")
	t.Setenv("EXMEBUS_INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Exmebus.Host != "10.0.0.2" {
		t.Errorf("Exmebus.Host = %q", cfg.Exmebus.Host)
	}
	if cfg.Gateway.Mode != ModeRedi {
		t.Errorf("Gateway.Mode = %q", cfg.Gateway.Mode)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	t.Setenv("EXMEBUS_EXMEBUS_PORT", "not-a-port")

	if err := applyEnvOverrides(Default()); err == nil {
		t.Error("applyEnvOverrides() expected error for non-numeric port")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT.QoS = %d, want 2", cfg.MQTT.QoS)
	}
	if cfg.MQTT.CleanSession {
		t.Error("MQTT.CleanSession = true, want persistent session")
	}
	if cfg.Gateway.InboxSize != 50 {
		t.Errorf("Gateway.InboxSize = %d, want 50", cfg.Gateway.InboxSize)
	}
	if cfg.Gateway.Mode != ModeJSON {
		t.Errorf("Gateway.Mode = %q, want json", cfg.Gateway.Mode)
	}
	if cfg.Spool.Enabled || cfg.InfluxDB.Enabled || cfg.Metrics.Enabled {
		t.Error("optional components enabled by default")
	}
}
