package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Parser modes.
const (
	ModeJSON = "json"
	ModeRedi = "redi"
)

// Config is the root configuration structure for the exmebus gateway.
// All configuration is loaded from YAML and can be overridden by environment
// variables and command-line flags.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Exmebus  ExmebusConfig  `yaml:"exmebus"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Spool    SpoolConfig    `yaml:"spool"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker       MQTTBrokerConfig `yaml:"broker"`
	Auth         MQTTAuthConfig   `yaml:"auth"`
	QoS          int              `yaml:"qos"`
	TopicPrefix  string           `yaml:"topic_prefix"`
	MachineID    string           `yaml:"machine_id"`
	CleanSession bool             `yaml:"clean_session"`
	Resubscribe  bool             `yaml:"resubscribe"`
	KeepAlive    int              `yaml:"keep_alive"` // seconds
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"` // derived from machine id and port when empty
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ExmebusConfig contains the collector stream settings.
type ExmebusConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
	WriteTimeout   int    `yaml:"write_timeout"`   // seconds
}

// GatewayConfig contains delivery loop settings.
type GatewayConfig struct {
	Mode                 string `yaml:"mode"`
	InboxSize            int    `yaml:"inbox_size"`
	ReconnectInterval    int    `yaml:"reconnect_interval"` // milliseconds
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	LenientValues        bool   `yaml:"lenient_values"`
	LogPayloads          bool   `yaml:"log_payloads"`
}

// SpoolConfig contains the undelivered frame spool settings.
type SpoolConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
	MaxFrames   int    `yaml:"max_frames"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// MetricsConfig contains the metrics and health HTTP listener settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Override mutates a loaded configuration before validation.
// Command-line flags are applied this way.
type Override func(*Config)

// Load reads configuration and applies overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (skipped when path is empty)
//  3. Environment variables (EXMEBUS_SECTION_KEY)
//  4. overrides, in order
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//   - overrides: Mutations applied after the environment
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults. exmebus.port and
// mqtt.machine_id have no default and must be supplied.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:          2,
			TopicPrefix:  "incoming/machine/",
			CleanSession: false,
			Resubscribe:  true,
			KeepAlive:    60,
		},
		Exmebus: ExmebusConfig{
			Host:           "127.0.0.1",
			ConnectTimeout: 5,
			WriteTimeout:   1,
		},
		Gateway: GatewayConfig{
			Mode:              ModeJSON,
			InboxSize:         50,
			ReconnectInterval: 1000,
		},
		Spool: SpoolConfig{
			Path:        "./data/spool.db",
			WALMode:     true,
			BusyTimeout: 5,
			MaxFrames:   10000,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Host: "127.0.0.1",
			Port: 9464,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EXMEBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	// MQTT
	setString("EXMEBUS_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setInt("EXMEBUS_MQTT_PORT", &cfg.MQTT.Broker.Port)
	setString("EXMEBUS_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("EXMEBUS_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	setString("EXMEBUS_MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)
	setString("EXMEBUS_MQTT_MACHINE_ID", &cfg.MQTT.MachineID)

	// Collector
	setString("EXMEBUS_EXMEBUS_HOST", &cfg.Exmebus.Host)
	setInt("EXMEBUS_EXMEBUS_PORT", &cfg.Exmebus.Port)

	// Gateway
	setString("EXMEBUS_GATEWAY_MODE", &cfg.Gateway.Mode)

	// Spool
	setString("EXMEBUS_SPOOL_PATH", &cfg.Spool.Path)

	// InfluxDB
	setString("EXMEBUS_INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("EXMEBUS_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// Logging
	setString("EXMEBUS_LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if !validPort(c.MQTT.Broker.Port) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.MachineID == "" {
		errs = append(errs, "mqtt.machine_id is required (set --machine-id or EXMEBUS_MQTT_MACHINE_ID)")
	} else if strings.ContainsAny(c.MQTT.MachineID, "+#/") {
		errs = append(errs, "mqtt.machine_id must not contain '+', '#' or '/'")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}

	// Collector validation
	if c.Exmebus.Host == "" {
		errs = append(errs, "exmebus.host is required")
	}
	if !validPort(c.Exmebus.Port) {
		errs = append(errs, "exmebus.port must be between 1 and 65535 (set --exmebus-port)")
	}
	if c.Exmebus.ConnectTimeout < 0 || c.Exmebus.WriteTimeout < 0 {
		errs = append(errs, "exmebus timeouts must not be negative")
	}

	// Gateway validation
	if c.Gateway.Mode != ModeJSON && c.Gateway.Mode != ModeRedi {
		errs = append(errs, fmt.Sprintf("gateway.mode must be %q or %q", ModeJSON, ModeRedi))
	}
	if c.Gateway.InboxSize < 1 {
		errs = append(errs, "gateway.inbox_size must be at least 1")
	}
	if c.Gateway.ReconnectInterval < 0 {
		errs = append(errs, "gateway.reconnect_interval must not be negative")
	}
	if c.Gateway.MaxReconnectAttempts < 0 {
		errs = append(errs, "gateway.max_reconnect_attempts must not be negative")
	}

	// Optional components
	if c.Spool.Enabled {
		if c.Spool.Path == "" {
			errs = append(errs, "spool.path is required when the spool is enabled")
		}
		if c.Spool.MaxFrames < 1 {
			errs = append(errs, "spool.max_frames must be at least 1")
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}
	if c.Metrics.Enabled && !validPort(c.Metrics.Port) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// SubscribeTopic returns the topic carrying this machine's events.
//
// Example: incoming/machine/m-17/json
func (c *Config) SubscribeTopic() string {
	topic := c.MQTT.TopicPrefix + c.MQTT.MachineID
	if c.Gateway.Mode == ModeJSON {
		topic += "/json"
	}
	return topic
}

// ClientID returns the MQTT client id. Each gateway instance serves one
// machine and one collector port, so the pair identifies the session.
//
// Example: mac_id_m-17_5000
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return fmt.Sprintf("mac_id_%s_%d", c.MQTT.MachineID, c.Exmebus.Port)
}

// WillTopic returns the last will topic.
func (c *Config) WillTopic() string {
	return "status"
}

// WillPayload returns the last will payload.
func (c *Config) WillPayload() string {
	return fmt.Sprintf("%s on port %d lost connection", c.MQTT.MachineID, c.Exmebus.Port)
}

// CollectorAddress returns the collector dial address.
func (c *Config) CollectorAddress() string {
	return net.JoinHostPort(c.Exmebus.Host, strconv.Itoa(c.Exmebus.Port))
}

// GetConnectTimeout returns the collector dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Exmebus.ConnectTimeout) * time.Second
}

// GetWriteTimeout returns the collector write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Exmebus.WriteTimeout) * time.Second
}

// GetReconnectInterval returns the MQTT reconnect interval as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Gateway.ReconnectInterval) * time.Millisecond
}

// GetKeepAlive returns the MQTT keepalive as a Duration.
func (m *MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(m.KeepAlive) * time.Second
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (i *InfluxDBConfig) GetFlushInterval() time.Duration {
	return time.Duration(i.FlushInterval) * time.Second
}

// Address returns the metrics listener address.
func (m *MetricsConfig) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}
