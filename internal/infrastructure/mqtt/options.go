package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used when the config leaves keep_alive at 0.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL returns the paho broker URL for the config.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho MQTT options from the gateway config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for the persistent session
//   - Authentication credentials (if provided)
//   - Clean session mode (off by default)
//   - TLS configuration (if enabled)
//
// Auto-reconnect and connect-retry stay off: Client.Reconnect is driven
// by the caller.
func buildClientOptions(cfg config.MQTTConfig, session Session) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(session.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// The broker keeps the subscription and queued QoS 1/2 messages while
	// the gateway is away. They arrive right after CONNACK, before any
	// route exists, and go to the default handler.
	opts.SetCleanSession(cfg.CleanSession)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := cfg.GetKeepAlive()
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	// Deliver messages in arrival order on a single goroutine.
	opts.SetOrderMatters(true)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up the last will.
//
// The broker publishes it if the gateway disconnects without sending
// DISCONNECT (crash, network failure, kill -9).
//
// Topic: session.WillTopic ("status")
// Payload: "<machine_id> on port <port> lost connection"
// QoS: 2
// Retained: false
func configureLWT(opts *pahomqtt.ClientOptions, cfg config.MQTTConfig, session Session) {
	if session.WillTopic == "" {
		return
	}
	qos := byte(cfg.QoS) //nolint:gosec // validated 0..2 by config
	if qos > maxQoS {
		qos = maxQoS
	}
	opts.SetWill(session.WillTopic, session.WillPayload, qos, false)
}
