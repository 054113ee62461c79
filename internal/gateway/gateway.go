package gateway

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/mqtt"
)

// Parser modes.
const (
	ModeJSON = "json"
	ModeRedi = "redi"
)

// DefaultInboxSize is the capacity of the message inbox.
const DefaultInboxSize = 50

// State is the delivery loop's connection state.
type State int32

// Delivery loop states.
const (
	StateConnected State = iota
	StateReconnectingStream
	StateReconnectingSubscribe
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnectingStream:
		return "reconnecting_stream"
	case StateReconnectingSubscribe:
		return "reconnecting_subscribe"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Logger is the structured logger used by the gateway.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Collector writes frames to the exmebus collector.
// *exmebus.CollectorClient satisfies this interface.
type Collector interface {
	Write(ctx context.Context, frame []byte) error
	Reconnect(ctx context.Context) error
}

// Subscriber is the MQTT side. *mqtt.Client satisfies this interface.
type Subscriber interface {
	Reconnect(ctx context.Context) error
	Resubscribe() error
}

// Spool stores frames that could not be written.
// *spool.Spool satisfies this interface. Optional.
type Spool interface {
	Push(ctx context.Context, frame []byte) error
	Drain(ctx context.Context, fn func(frame []byte) error) (int, error)

	// Dropped returns how many frames the size limit has discarded so far.
	Dropped() uint64
}

// Mirror receives every record after it was handed to the collector.
// *influxdb.Client satisfies this interface. Optional.
type Mirror interface {
	WriteSignal(machineID string, p *exmebus.Packet)
}

// Mirrors fans a record out to several mirrors in order.
type Mirrors []Mirror

// WriteSignal implements Mirror.
func (m Mirrors) WriteSignal(machineID string, p *exmebus.Packet) {
	for _, mirror := range m {
		mirror.WriteSignal(machineID, p)
	}
}

// Metrics receives delivery loop events. Optional.
type Metrics interface {
	MessageReceived()
	MessageDiscarded()
	EventRejected()
	FrameWritten(bytes int)
	FrameDropped()
	FrameSpooled()
	FramesReplayed(n int)
	CollectorReconnect(ok bool)
	SubscriberReconnect()
	SetState(s State)
	SetInboxDepth(n int)
}

// Message is one inbound MQTT message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Options holds the gateway's collaborators and settings.
type Options struct {
	// Mode is ModeJSON or ModeRedi. Empty means ModeJSON.
	Mode string

	// TopicPrefix is stripped from topics to find the machine id for logs.
	TopicPrefix string

	// InboxSize is the inbox capacity. Zero means DefaultInboxSize.
	InboxSize int

	// Resubscribe re-issues the MQTT subscriptions after a reconnect.
	Resubscribe bool

	// LogPayloads logs every raw payload at debug level.
	LogPayloads bool

	// Retry paces MQTT reconnect attempts.
	Retry RetryPolicy

	// Parser configures event parsing. A nil Parser.Logger uses Logger.
	Parser ParserOptions

	Collector  Collector  // required
	Subscriber Subscriber // required
	Logger     Logger
	Metrics    Metrics
	Spool      Spool
	Mirror     Mirror
}

// Stats is a snapshot of the gateway counters.
type Stats struct {
	State                State
	MessagesReceived     uint64
	MessagesDiscarded    uint64
	EventsRejected       uint64
	FramesWritten        uint64
	FramesDropped        uint64
	FramesSpooled        uint64
	CollectorReconnects  uint64
	SubscriberReconnects uint64
	InboxDepth           int
}

type inboxItem struct {
	msg  Message
	lost bool
	err  error
}

// reconnectResult reports the end of an MQTT reconnect back to Run.
type reconnectResult struct {
	attempts int
	err      error
}

// Gateway is the delivery loop: it receives MQTT messages through a bounded
// inbox, parses them into records and writes one frame per record to the
// collector, reconnecting either side when it fails.
//
// Thread Safety:
//   - HandleMessage, Enqueue and ConnectionLost may be called from any goroutine.
//   - Run must be called once; it owns the collector and all records.
//   - The MQTT reconnect runs on its own goroutine and only touches the
//     Subscriber; Run keeps draining the inbox while it is in flight.
type Gateway struct {
	mode        string
	topicPrefix string
	resubscribe bool
	logPayloads bool
	retry       RetryPolicy

	parser     *Parser
	collector  Collector
	subscriber Subscriber
	logger     Logger
	metrics    Metrics
	spool      Spool
	mirror     Mirror

	// spoolTrimmed is the last Spool.Dropped value seen. Run only.
	spoolTrimmed uint64

	inbox       chan inboxItem
	done        chan struct{}
	running     atomic.Bool
	lostPending atomic.Bool
	state       atomic.Int32

	messagesReceived     atomic.Uint64
	messagesDiscarded    atomic.Uint64
	eventsRejected       atomic.Uint64
	framesWritten        atomic.Uint64
	framesDropped        atomic.Uint64
	framesSpooled        atomic.Uint64
	collectorReconnects  atomic.Uint64
	subscriberReconnects atomic.Uint64
}

// New creates a gateway. Call Run to start delivery.
func New(opts Options) (*Gateway, error) {
	if opts.Collector == nil {
		return nil, fmt.Errorf("%w: collector is required", ErrInvalidOptions)
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("%w: subscriber is required", ErrInvalidOptions)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeJSON
	}
	if mode != ModeJSON && mode != ModeRedi {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, opts.Mode)
	}
	if opts.InboxSize < 0 {
		return nil, fmt.Errorf("%w: negative inbox size", ErrInvalidOptions)
	}
	inboxSize := opts.InboxSize
	if inboxSize == 0 {
		inboxSize = DefaultInboxSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	parserOpts := opts.Parser
	if parserOpts.Logger == nil {
		parserOpts.Logger = logger
	}

	g := &Gateway{
		mode:        mode,
		topicPrefix: opts.TopicPrefix,
		resubscribe: opts.Resubscribe,
		logPayloads: opts.LogPayloads,
		retry:       opts.Retry,
		parser:      NewParser(parserOpts),
		collector:   opts.Collector,
		subscriber:  opts.Subscriber,
		logger:      logger,
		metrics:     metrics,
		spool:       opts.Spool,
		mirror:      opts.Mirror,
		inbox:       make(chan inboxItem, inboxSize),
		done:        make(chan struct{}),
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = func(attempt int, err error) {
			g.logger.Warn("mqtt reconnect attempt failed", "attempt", attempt, "error", err)
		}
	}
	return g, nil
}

// HandleMessage enqueues one MQTT message. It blocks while the inbox is
// full and fails with ErrStopped once Run has returned.
func (g *Gateway) HandleMessage(topic string, payload []byte) error {
	return g.Enqueue(Message{Topic: topic, Payload: payload})
}

// Enqueue is HandleMessage for a full Message.
func (g *Gateway) Enqueue(msg Message) error {
	select {
	case g.inbox <- inboxItem{msg: msg}:
		return nil
	case <-g.done:
		return ErrStopped
	}
}

// ConnectionLost tells the loop the MQTT connection dropped. Calls made
// while a previous notice is still queued are coalesced.
func (g *Gateway) ConnectionLost(err error) {
	if !g.lostPending.CompareAndSwap(false, true) {
		return
	}
	select {
	case g.inbox <- inboxItem{lost: true, err: err}:
	case <-g.done:
	}
}

// Run consumes the inbox until ctx is cancelled. Each message is fully
// processed before the next is read.
//
// An MQTT reconnect does not stop consumption. Messages a resumed session
// redelivers ahead of the SUBACK are forwarded while the reconnect is in
// flight.
//
// Returns:
//   - error: nil on cancellation, or the error that ended MQTT
//     reconnection when the retry policy is bounded
func (g *Gateway) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(g.done)

	g.setState(StateConnected)
	g.logger.Info("gateway started", "mode", g.mode, "inbox_size", cap(g.inbox))

	g.replaySpool(ctx)

	var (
		reconnecting <-chan reconnectResult
		lostAgain    error
	)
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("gateway stopped")
			return nil

		case res := <-reconnecting:
			reconnecting = nil
			if err := g.finishReconnect(ctx, res); err != nil {
				return err
			}
			if lostAgain != nil {
				reconnecting = g.startReconnect(ctx, lostAgain)
				lostAgain = nil
			}

		case item := <-g.inbox:
			g.metrics.SetInboxDepth(len(g.inbox))
			if item.lost {
				g.lostPending.Store(false)
				if reconnecting != nil {
					lostAgain = item.err
					continue
				}
				reconnecting = g.startReconnect(ctx, item.err)
				continue
			}
			g.process(ctx, item.msg)
		}
	}
}

// State returns the current loop state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Stats returns a snapshot of the counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		State:                g.State(),
		MessagesReceived:     g.messagesReceived.Load(),
		MessagesDiscarded:    g.messagesDiscarded.Load(),
		EventsRejected:       g.eventsRejected.Load(),
		FramesWritten:        g.framesWritten.Load(),
		FramesDropped:        g.framesDropped.Load(),
		FramesSpooled:        g.framesSpooled.Load(),
		CollectorReconnects:  g.collectorReconnects.Load(),
		SubscriberReconnects: g.subscriberReconnects.Load(),
		InboxDepth:           len(g.inbox),
	}
}

func (g *Gateway) setState(s State) {
	g.state.Store(int32(s))
	g.metrics.SetState(s)
}

func (g *Gateway) process(ctx context.Context, msg Message) {
	g.messagesReceived.Add(1)
	g.metrics.MessageReceived()

	machine := mqtt.MachineIDFromTopic(g.topicPrefix, msg.Topic)
	g.logger.Debug("message received",
		"topic", msg.Topic,
		"machine", machine,
		"retained", msg.Retained,
		"bytes", len(msg.Payload))
	if g.logPayloads {
		g.logger.Debug("message payload", "topic", msg.Topic, "payload", string(msg.Payload))
	}

	if g.mode == ModeRedi {
		g.messagesDiscarded.Add(1)
		g.metrics.MessageDiscarded()
		g.logger.Debug("redi payload discarded", "topic", msg.Topic)
		return
	}

	packets, err := g.parser.Parse(msg.Payload)
	if err != nil {
		g.eventsRejected.Add(1)
		g.metrics.EventRejected()
		g.logger.Warn("event rejected", "machine", machine, "records", len(packets), "error", err)
	}

	for _, p := range packets {
		frame, err := exmebus.Encode(p)
		if err != nil {
			g.eventsRejected.Add(1)
			g.metrics.EventRejected()
			g.logger.Warn("record not encodable", "machine", machine, "signal", p.SignalNumber, "error", err)
			continue
		}

		g.logger.Debug("forwarding record", "machine", machine, "record", p.String(), "bytes", len(frame))
		g.deliver(ctx, frame)

		if g.mirror != nil {
			g.mirror.WriteSignal(machine, p)
		}
	}
}

// deliver writes one frame. On failure the frame is spooled or dropped and
// the collector stream is reopened once; a failed redial is left to the
// next write, which dials on demand.
func (g *Gateway) deliver(ctx context.Context, frame []byte) {
	err := g.collector.Write(ctx, frame)
	if err == nil {
		g.framesWritten.Add(1)
		g.metrics.FrameWritten(len(frame))
		return
	}

	prev := g.State()
	g.setState(StateReconnectingStream)
	defer g.setState(prev)

	g.logger.Warn("collector write failed", "bytes", len(frame), "error", err)
	g.stash(ctx, frame)

	if ctx.Err() != nil {
		return
	}

	g.collectorReconnects.Add(1)
	if err := g.collector.Reconnect(ctx); err != nil {
		g.metrics.CollectorReconnect(false)
		g.logger.Error("collector reconnect failed, next write redials", "error", err)
		return
	}
	g.metrics.CollectorReconnect(true)
	g.logger.Info("collector reconnected")
	g.replaySpool(ctx)
}

func (g *Gateway) stash(ctx context.Context, frame []byte) {
	if g.spool == nil {
		g.framesDropped.Add(1)
		g.metrics.FrameDropped()
		return
	}

	if err := g.spool.Push(context.WithoutCancel(ctx), frame); err != nil {
		g.framesDropped.Add(1)
		g.metrics.FrameDropped()
		g.logger.Error("spool push failed, frame dropped", "error", err)
		return
	}
	g.framesSpooled.Add(1)
	g.metrics.FrameSpooled()

	if trimmed := g.spool.Dropped(); trimmed > g.spoolTrimmed {
		g.logger.Warn("spool full, oldest frames discarded",
			"discarded", trimmed-g.spoolTrimmed, "total", trimmed)
		g.spoolTrimmed = trimmed
	}
}

func (g *Gateway) replaySpool(ctx context.Context) {
	if g.spool == nil {
		return
	}

	n, err := g.spool.Drain(ctx, func(frame []byte) error {
		return g.collector.Write(ctx, frame)
	})
	if n > 0 {
		g.framesWritten.Add(uint64(n)) //nolint:gosec // n is non-negative
		g.metrics.FramesReplayed(n)
		g.logger.Info("spooled frames replayed", "frames", n)
	}
	if err != nil && ctx.Err() == nil {
		g.logger.Warn("spool replay stopped", "replayed", n, "error", err)
	}
}

// startReconnect reconnects the MQTT side under the retry policy on a new
// goroutine, restoring the subscriptions when configured to. The result is
// delivered on the returned channel.
func (g *Gateway) startReconnect(ctx context.Context, cause error) <-chan reconnectResult {
	g.setState(StateReconnectingSubscribe)
	g.logger.Warn("mqtt connection lost", "error", cause)

	done := make(chan reconnectResult, 1)
	go func() {
		attempts := 0
		err := g.retry.Do(ctx, func(ctx context.Context) error {
			attempts++
			if err := g.subscriber.Reconnect(ctx); err != nil {
				return err
			}
			if g.resubscribe {
				return g.subscriber.Resubscribe()
			}
			return nil
		})
		done <- reconnectResult{attempts: attempts, err: err}
	}()
	return done
}

func (g *Gateway) finishReconnect(ctx context.Context, res reconnectResult) error {
	if res.err != nil {
		if ctx.Err() != nil {
			return nil
		}
		g.logger.Error("mqtt reconnect abandoned", "attempts", res.attempts, "error", res.err)
		return fmt.Errorf("mqtt reconnect: %w", res.err)
	}

	g.subscriberReconnects.Add(1)
	g.metrics.SubscriberReconnect()
	g.logger.Info("mqtt reconnected", "attempts", res.attempts, "resubscribed", g.resubscribe)
	g.setState(StateConnected)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopMetrics struct{}

func (nopMetrics) MessageReceived()        {}
func (nopMetrics) MessageDiscarded()       {}
func (nopMetrics) EventRejected()          {}
func (nopMetrics) FrameWritten(int)        {}
func (nopMetrics) FrameDropped()           {}
func (nopMetrics) FrameSpooled()           {}
func (nopMetrics) FramesReplayed(int)      {}
func (nopMetrics) CollectorReconnect(bool) {}
func (nopMetrics) SubscriberReconnect()    {}
func (nopMetrics) SetState(State)          {}
func (nopMetrics) SetInboxDepth(int)       {}
