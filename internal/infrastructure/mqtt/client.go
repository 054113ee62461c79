package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the gateway's subscribe channel.
//
// The paho auto-reconnect is disabled: the owner is told about a lost
// connection through SetOnDisconnect and drives Reconnect itself, so that
// reconnection is part of the gateway's state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message handlers run on paho's router goroutine, in arrival order.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	session Session

	// subscriptions tracks active subscriptions for Resubscribe.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// reconnectMu serialises Reconnect calls.
	reconnectMu sync.Mutex

	onDisconnect   func(err error)
	defaultHandler MessageHandler
	callbackMu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Session describes the identity of this gateway instance on the broker.
type Session struct {
	// ClientID identifies the persistent session.
	ClientID string

	// WillTopic and WillPayload form the last will, published by the
	// broker if the gateway disappears without disconnecting.
	WillTopic   string
	WillPayload string
}

// SessionFromConfig derives the session from the full configuration.
func SessionFromConfig(cfg *config.Config) Session {
	return Session{
		ClientID:    cfg.ClientID(),
		WillTopic:   cfg.WillTopic(),
		WillPayload: cfg.WillPayload(),
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Message is a received MQTT message.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on the paho router goroutine. A handler that blocks
// holds back delivery of the next message.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(msg Message) error

// Connect creates a client and establishes a connection to the MQTT broker.
//
// Use New and Client.Connect instead when a persistent session may hold
// queued messages: the default handler has to be in place before the
// broker starts delivering them.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - session: Client id and last will
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If initial connection fails within timeout
func Connect(cfg config.MQTTConfig, session Session) (*Client, error) {
	c := New(cfg, session)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds an unconnected client.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures the last will from the session
//  3. Requests a persistent session unless clean_session is set
//  4. Routes messages matching no subscription to the default handler
func New(cfg config.MQTTConfig, session Session) *Client {
	opts := buildClientOptions(cfg, session)
	configureLWT(opts, cfg, session)

	c := &Client{
		cfg:           cfg,
		session:       session,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetDefaultPublishHandler(c.handleUnrouted)

	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect performs the initial connection, waiting up to the connect
// timeout for the CONNACK.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.setConnected(true)
	return nil
}

// handleUnrouted receives messages that match no subscription route, such
// as those a resumed session delivers between CONNACK and the first SUBACK.
func (c *Client) handleUnrouted(client pahomqtt.Client, msg pahomqtt.Message) {
	c.callbackMu.RLock()
	handler := c.defaultHandler
	c.callbackMu.RUnlock()

	if handler == nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT message without handler dropped", "topic", msg.Topic())
		}
		return
	}
	c.wrapHandler(handler)(client, msg)
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Reconnect performs one connection attempt. It is a no-op when the client
// is already connected.
//
// Parameters:
//   - ctx: Context for cancellation; the attempt is abandoned when ctx ends
//
// Returns:
//   - error: ErrConnectionFailed wrapping the broker or timeout error
func (c *Client) Reconnect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.setConnected(true)
	return nil
}

// Resubscribe re-issues every tracked subscription.
//
// With a persistent session the broker normally keeps subscriptions, but a
// broker restart without persistence loses them. Subscribing again is
// idempotent on the broker side.
func (c *Client) Resubscribe() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		if !token.WaitTimeout(defaultSubscribeTimeout) {
			return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, sub.topic, defaultSubscribeTimeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, sub.topic, err)
		}
	}
	return nil
}

// Close disconnects from the MQTT broker.
//
// A clean disconnect tells the broker to discard the last will, so the
// status topic only hears about abnormal terminations.
//
// Returns:
//   - error: nil (a client that never connected is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.SubscriptionCount() == 0 {
		return ErrNoSubscriptions
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// ClientID returns the session client id.
func (c *Client) ClientID() string {
	return c.session.ClientID
}

// SetDefaultHandler sets the handler for messages that match no
// subscription. Set it before Connect so that messages queued in a
// persistent session are not lost.
func (c *Client) SetDefaultHandler(handler MessageHandler) {
	c.callbackMu.Lock()
	c.defaultHandler = handler
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		m := Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
		}
		if err := handler(m); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
