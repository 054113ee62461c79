// Package metrics exposes gateway counters to Prometheus.
//
// Recorder implements gateway.Metrics. Collector connection details are
// read on scrape through RegisterCollector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/exertus/exmebus-gateway/internal/exmebus"
	"github.com/exertus/exmebus-gateway/internal/gateway"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "exmebus_gateway"

// frameBuckets covers header-only frames up to the protocol maximum.
var frameBuckets = []float64{20, 24, 32, 64, 128, 256, 512, exmebus.MaxPacketSize}

var allStates = []gateway.State{
	gateway.StateConnected,
	gateway.StateReconnectingStream,
	gateway.StateReconnectingSubscribe,
}

// Config configures the recorder.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
}

// Option configures the recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels adds labels to every metric, e.g. the machine id.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// Recorder holds the gateway's Prometheus metrics.
type Recorder struct {
	factory promauto.Factory
	cfg     Config

	messagesReceived     prometheus.Counter
	messagesDiscarded    prometheus.Counter
	eventsRejected       prometheus.Counter
	framesWritten        prometheus.Counter
	frameBytes           prometheus.Histogram
	framesDropped        prometheus.Counter
	framesSpooled        prometheus.Counter
	framesReplayed       prometheus.Counter
	collectorReconnects  *prometheus.CounterVec
	subscriberReconnects prometheus.Counter
	state                *prometheus.GaugeVec
	inboxDepth           prometheus.Gauge
}

// New registers the gateway metrics with reg.
func New(reg prometheus.Registerer, opts ...Option) *Recorder {
	cfg := Config{Namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	r := &Recorder{
		factory:              factory,
		cfg:                  cfg,
		messagesReceived:     counter("messages_received_total", "MQTT messages taken from the inbox"),
		messagesDiscarded:    counter("messages_discarded_total", "Messages discarded in redi mode"),
		eventsRejected:       counter("events_rejected_total", "Events or records rejected by the parser or encoder"),
		framesWritten:        counter("frames_written_total", "Frames written to the collector"),
		framesDropped:        counter("frames_dropped_total", "Frames lost after a failed write"),
		framesSpooled:        counter("frames_spooled_total", "Frames stored in the spool after a failed write"),
		framesReplayed:       counter("frames_replayed_total", "Spooled frames written after a reconnect"),
		subscriberReconnects: counter("mqtt_reconnects_total", "Successful MQTT reconnects"),

		frameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "frame_bytes",
			Help:        "Size of frames written to the collector",
			ConstLabels: cfg.ConstLabels,
			Buckets:     frameBuckets,
		}),
		collectorReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "collector_reconnects_total",
			Help:        "Collector redials after a failed write",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "state",
			Help:        "Delivery loop state (1 for the current state)",
			ConstLabels: cfg.ConstLabels,
		}, []string{"state"}),
		inboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "inbox_depth",
			Help:        "Messages waiting in the inbox",
			ConstLabels: cfg.ConstLabels,
		}),
	}
	r.SetState(gateway.StateConnected)
	return r
}

// RegisterCollector exposes collector connection data read on each scrape.
func (r *Recorder) RegisterCollector(stats func() exmebus.CollectorStats) {
	r.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   r.cfg.Namespace,
		Name:        "collector_connected",
		Help:        "1 when the collector stream is open",
		ConstLabels: r.cfg.ConstLabels,
	}, func() float64 {
		if stats().Connected {
			return 1
		}
		return 0
	})
	r.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   r.cfg.Namespace,
		Name:        "collector_bytes_total",
		Help:        "Bytes written to the collector",
		ConstLabels: r.cfg.ConstLabels,
	}, func() float64 {
		return float64(stats().BytesTx)
	})
	r.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   r.cfg.Namespace,
		Name:        "collector_dial_errors_total",
		Help:        "Failed collector dials",
		ConstLabels: r.cfg.ConstLabels,
	}, func() float64 {
		return float64(stats().DialErrors)
	})
}

// RegisterSpool exposes how many spooled frames the size limit discarded,
// read on each scrape.
func (r *Recorder) RegisterSpool(dropped func() uint64) {
	r.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   r.cfg.Namespace,
		Name:        "spool_trimmed_total",
		Help:        "Spooled frames discarded by the size limit",
		ConstLabels: r.cfg.ConstLabels,
	}, func() float64 {
		return float64(dropped())
	})
}

func (r *Recorder) MessageReceived()  { r.messagesReceived.Inc() }
func (r *Recorder) MessageDiscarded() { r.messagesDiscarded.Inc() }
func (r *Recorder) EventRejected()    { r.eventsRejected.Inc() }
func (r *Recorder) FrameDropped()     { r.framesDropped.Inc() }
func (r *Recorder) FrameSpooled()     { r.framesSpooled.Inc() }

// FrameWritten counts a frame and observes its size.
func (r *Recorder) FrameWritten(bytes int) {
	r.framesWritten.Inc()
	r.frameBytes.Observe(float64(bytes))
}

// FramesReplayed counts frames written from the spool.
func (r *Recorder) FramesReplayed(n int) {
	r.framesReplayed.Add(float64(n))
	r.framesWritten.Add(float64(n))
}

// CollectorReconnect counts a redial by outcome.
func (r *Recorder) CollectorReconnect(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	r.collectorReconnects.WithLabelValues(result).Inc()
}

func (r *Recorder) SubscriberReconnect() { r.subscriberReconnects.Inc() }

// SetState sets the current state to 1 and all others to 0.
func (r *Recorder) SetState(s gateway.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		r.state.WithLabelValues(st.String()).Set(v)
	}
}

func (r *Recorder) SetInboxDepth(n int) { r.inboxDepth.Set(float64(n)) }
