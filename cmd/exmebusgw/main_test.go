package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{
		"--topic", "incoming/machine/",
		"--exmebus-port", "5000",
		"--mqtt-port", "1884",
		"--host", "tcp://broker.local",
		"--machine-id", "HD453",
		"--mode", "JSON",
		"-dd",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if f.debug != 2 {
		t.Errorf("debug = %d, want 2", f.debug)
	}

	t.Setenv("EXMEBUS_MQTT_HOST", "")
	cfg, err := config.Load("", f.overrides()...)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.TopicPrefix != "incoming/machine/" {
		t.Errorf("TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Exmebus.Port != 5000 {
		t.Errorf("Exmebus.Port = %d", cfg.Exmebus.Port)
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("Broker.Port = %d", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.MachineID != "HD453" {
		t.Errorf("MachineID = %q", cfg.MQTT.MachineID)
	}
	if cfg.Gateway.Mode != config.ModeJSON {
		t.Errorf("Mode = %q", cfg.Gateway.Mode)
	}
	if cfg.Logging.Level != "debug" || !cfg.Gateway.LogPayloads {
		t.Errorf("level = %q, log_payloads = %v; want debug, true", cfg.Logging.Level, cfg.Gateway.LogPayloads)
	}
	if got := cfg.SubscribeTopic(); got != "incoming/machine/HD453/json" {
		t.Errorf("SubscribeTopic() = %q", got)
	}
	if got := cfg.ClientID(); got != "mac_id_HD453_5000" {
		t.Errorf("ClientID() = %q", got)
	}
}

func TestParseFlags_DebugLevels(t *testing.T) {
	tests := []struct {
		args        []string
		wantLevel   string
		wantPayload bool
	}{
		{nil, "info", false},
		{[]string{"-d"}, "debug", false},
		{[]string{"--debug", "--debug"}, "debug", true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			f, err := parseFlags(tt.args)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			cfg := config.Default()
			for _, o := range f.overrides() {
				o(cfg)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
			if cfg.Gateway.LogPayloads != tt.wantPayload {
				t.Errorf("log_payloads = %v, want %v", cfg.Gateway.LogPayloads, tt.wantPayload)
			}
		})
	}
}

func TestParseFlags_UnsetFlagsKeepConfig(t *testing.T) {
	f, err := parseFlags([]string{"--machine-id", "m-1"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	cfg := config.Default()
	cfg.Exmebus.Port = 6000
	for _, o := range f.overrides() {
		o(cfg)
	}
	if cfg.Exmebus.Port != 6000 {
		t.Errorf("Exmebus.Port = %d, want 6000", cfg.Exmebus.Port)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--nope"}},
		{"bad port", []string{"--exmebus-port", "abc"}},
		{"positional", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(tt.args); err == nil {
				t.Error("parseFlags() error = nil, want error")
			}
		})
	}
}

func TestBrokerHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"tcp://localhost", "localhost"},
		{"localhost", "localhost"},
		{"ssl://broker.example.com/", "broker.example.com"},
		{"10.0.0.5", "10.0.0.5"},
	}
	for _, tt := range tests {
		if got := brokerHost(tt.in); got != tt.want {
			t.Errorf("brokerHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(configEnv, "/from/env.yaml")
		got, err := resolveConfigPath("/from/flag.yaml")
		if err != nil || got != "/from/flag.yaml" {
			t.Errorf("resolveConfigPath() = %q, %v", got, err)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(configEnv, "/from/env.yaml")
		got, err := resolveConfigPath("")
		if err != nil || got != "/from/env.yaml" {
			t.Errorf("resolveConfigPath() = %q, %v", got, err)
		}
	})

	t.Run("missing default", func(t *testing.T) {
		t.Setenv(configEnv, "")
		t.Chdir(t.TempDir())
		got, err := resolveConfigPath("")
		if err != nil || got != "" {
			t.Errorf("resolveConfigPath() = %q, %v; want empty", got, err)
		}
	})

	t.Run("present default", func(t *testing.T) {
		t.Setenv(configEnv, "")
		dir := t.TempDir()
		t.Chdir(dir)
		if err := os.MkdirAll(filepath.Join(dir, "configs"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := resolveConfigPath("")
		if err != nil || got != defaultConfigPath {
			t.Errorf("resolveConfigPath() = %q, %v", got, err)
		}
	})
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), serviceName+" ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnv, "")
	t.Setenv("EXMEBUS_MQTT_MACHINE_ID", "")
	t.Chdir(t.TempDir())

	err := run(context.Background(), []string{"--exmebus-port", "5000"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() error = nil, want missing machine id")
	}
	if !strings.Contains(err.Error(), "machine_id") {
		t.Errorf("error = %v, want mention of machine_id", err)
	}
}

func TestRun_MissingConfigFile(t *testing.T) {
	err := run(context.Background(), []string{"--config", "/nonexistent/config.yaml"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() error = nil, want error for missing config file")
	}
}

func TestRun_CollectorUnreachable(t *testing.T) {
	t.Setenv(configEnv, "")
	t.Chdir(t.TempDir())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = run(ctx, []string{
		"--machine-id", "m-1",
		"--exmebus-port", strconv.Itoa(port),
	}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() error = nil, want collector dial failure")
	}
	if !strings.Contains(err.Error(), "collector") {
		t.Errorf("error = %v, want collector failure", err)
	}
}
