// exmebusgw forwards machine events from an MQTT broker to an exmebus
// collector.
//
// It subscribes to <topic><machine-id>/json, parses each JSON event into an
// own data signal record and writes one binary frame per record to the
// collector's TCP port. Either connection is re-established when it drops.
//
// Usage:
//
//	exmebusgw --topic incoming/machine/ --machine-id HD453 \
//	    --host tcp://localhost --mqtt-port 1883 --exmebus-port 5000 --mode json -d
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/exertus/exmebus-gateway/internal/api"
	"github.com/exertus/exmebus-gateway/internal/exmebus"
	"github.com/exertus/exmebus-gateway/internal/gateway"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/database"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/influxdb"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/logging"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/mqtt"
	"github.com/exertus/exmebus-gateway/internal/metrics"
	"github.com/exertus/exmebus-gateway/internal/spool"
	"github.com/exertus/exmebus-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "exmebusgw"
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "EXMEBUS_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the parsed command line.
type flags struct {
	set *pflag.FlagSet

	configPath  string
	topic       string
	exmebusPort int
	mqttPort    int
	host        string
	machineID   string
	mode        string
	debug       int
	showVersion bool
}

// parseFlags parses the command line. Only flags given explicitly override
// the configuration file.
func parseFlags(args []string) (*flags, error) {
	f := &flags{set: pflag.NewFlagSet(serviceName, pflag.ContinueOnError)}
	fs := f.set

	fs.StringVar(&f.configPath, "config", "", "path to the YAML config file (default $"+configEnv+" or "+defaultConfigPath+")")
	fs.StringVar(&f.topic, "topic", "", "MQTT topic prefix, e.g. incoming/machine/")
	fs.IntVar(&f.exmebusPort, "exmebus-port", 0, "collector port where frames are forwarded")
	fs.IntVar(&f.mqttPort, "mqtt-port", 0, "MQTT broker port")
	fs.StringVar(&f.host, "host", "", "MQTT broker address, e.g. tcp://localhost")
	fs.StringVar(&f.machineID, "machine-id", "", "machine id, appended to the topic prefix")
	fs.StringVar(&f.mode, "mode", "", "parser mode: json or redi")
	fs.CountVarP(&f.debug, "debug", "d", "debug level; -dd also logs raw payloads")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return f, nil
}

// overrides converts explicitly set flags into config overrides.
func (f *flags) overrides() []config.Override {
	var out []config.Override
	changed := f.set.Changed

	if changed("topic") {
		out = append(out, func(c *config.Config) { c.MQTT.TopicPrefix = f.topic })
	}
	if changed("exmebus-port") {
		out = append(out, func(c *config.Config) { c.Exmebus.Port = f.exmebusPort })
	}
	if changed("mqtt-port") {
		out = append(out, func(c *config.Config) { c.MQTT.Broker.Port = f.mqttPort })
	}
	if changed("host") {
		out = append(out, func(c *config.Config) { c.MQTT.Broker.Host = brokerHost(f.host) })
	}
	if changed("machine-id") {
		out = append(out, func(c *config.Config) { c.MQTT.MachineID = f.machineID })
	}
	if changed("mode") {
		out = append(out, func(c *config.Config) { c.Gateway.Mode = strings.ToLower(f.mode) })
	}
	if f.debug > 0 {
		out = append(out, func(c *config.Config) { c.Logging.Level = "debug" })
	}
	if f.debug > 1 {
		out = append(out, func(c *config.Config) { c.Gateway.LogPayloads = true })
	}
	return out
}

// brokerHost strips a URL scheme from the broker address.
//
// Example: tcp://localhost -> localhost
func brokerHost(host string) string {
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.TrimSuffix(host, "/")
}

// resolveConfigPath picks the config file. A missing default file means
// defaults only; an explicitly named file must exist.
func resolveConfigPath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv(configEnv); p != "" {
		return p, nil
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("checking %s: %w", defaultConfigPath, err)
	}
	return defaultConfigPath, nil
}

// run wires the components and blocks until ctx is cancelled or delivery
// fails permanently.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Command-line arguments without the program name
//   - stdout: Destination of --version output
//
// Returns:
//   - error: nil on clean shutdown, or the startup/delivery failure
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo // startup wiring
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if f.showVersion {
		fmt.Fprintf(stdout, "%s %s (commit %s, built %s)\n", serviceName, version, commit, date)
		return nil
	}

	configPath, err := resolveConfigPath(f.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, f.overrides()...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, serviceName, version)
	log.Info("starting exmebus gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"machine_id", cfg.MQTT.MachineID,
		"mode", cfg.Gateway.Mode,
	)

	// Collector. The first dial must succeed.
	collector, err := exmebus.Dial(ctx, exmebus.CollectorConfig{
		Address:        cfg.CollectorAddress(),
		ConnectTimeout: cfg.GetConnectTimeout(),
		WriteTimeout:   cfg.GetWriteTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connecting to collector: %w", err)
	}
	collector.SetLogger(log.With("component", "collector"))
	defer func() {
		if closeErr := collector.Close(); closeErr != nil {
			log.Error("error closing collector", "error", closeErr)
		}
	}()
	log.Info("collector connected", "address", collector.Address())

	// MQTT. Connected below, once the gateway is consuming, so a resumed
	// session's backlog has somewhere to go.
	mqttClient := mqtt.New(cfg.MQTT, mqtt.SessionFromConfig(cfg))
	mqttClient.SetLogger(log.With("component", "mqtt"))

	opts := gateway.Options{
		Mode:        cfg.Gateway.Mode,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		InboxSize:   cfg.Gateway.InboxSize,
		Resubscribe: cfg.MQTT.Resubscribe,
		LogPayloads: cfg.Gateway.LogPayloads,
		Retry: gateway.RetryPolicy{
			Interval:    cfg.GetReconnectInterval(),
			MaxAttempts: cfg.Gateway.MaxReconnectAttempts,
		},
		Parser:     gateway.ParserOptions{LenientValues: cfg.Gateway.LenientValues},
		Collector:  collector,
		Subscriber: mqttClient,
		Logger:     log.With("component", "gateway"),
	}

	// Spool (optional)
	var frameSpool *spool.Spool
	if cfg.Spool.Enabled {
		db, openErr := database.Open(ctx, database.Config{
			Path:        cfg.Spool.Path,
			WALMode:     cfg.Spool.WALMode,
			BusyTimeout: cfg.Spool.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening spool: %w", openErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing spool", "error", closeErr)
			}
		}()
		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("migrating spool: %w", migrateErr)
		}
		frameSpool = spool.New(db, cfg.Spool.MaxFrames)
		opts.Spool = frameSpool
		log.Info("spool enabled", "path", db.Path(), "migrations_applied", applied)
	}

	var mirrors gateway.Mirrors

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mirrors = append(mirrors, influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Metrics, health and live feed (optional)
	var reg *prometheus.Registry
	var hub *api.Hub
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder := metrics.New(reg, metrics.WithConstLabels(prometheus.Labels{"machine": cfg.MQTT.MachineID}))
		recorder.RegisterCollector(collector.Stats)
		if frameSpool != nil {
			recorder.RegisterSpool(frameSpool.Dropped)
		}
		opts.Metrics = recorder

		hub = api.NewHub(log)
		mirrors = append(mirrors, hub)
	}

	if len(mirrors) > 0 {
		opts.Mirror = mirrors
	}

	gw, err := gateway.New(opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	handler := func(msg mqtt.Message) error {
		return gw.Enqueue(gateway.Message{Topic: msg.Topic, Payload: msg.Payload, Retained: msg.Retained})
	}
	mqttClient.SetDefaultHandler(handler)
	mqttClient.SetOnDisconnect(gw.ConnectionLost)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runErr := make(chan error, 1)
	go func() { runErr <- gw.Run(runCtx) }()
	abort := func(err error) error {
		stopRun()
		<-runErr
		return err
	}

	if err := mqttClient.Connect(); err != nil {
		return abort(fmt.Errorf("connecting to MQTT: %w", err))
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	topic := cfg.SubscribeTopic()
	if err := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), handler); err != nil { //nolint:gosec // QoS validated 0-2
		return abort(fmt.Errorf("subscribing to %s: %w", topic, err))
	}
	log.Info("listening", "topic", topic, "mode", cfg.Gateway.Mode)

	if cfg.Metrics.Enabled {
		checks := map[string]api.HealthChecker{
			"collector": collector,
			"mqtt":      mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.Metrics,
			Logger:   log,
			Gatherer: reg,
			Checks:   checks,
			Status:   gw.Stats,
			Hub:      hub,
			Version:  version,
		})
		if srvErr != nil {
			return abort(fmt.Errorf("creating http server: %w", srvErr))
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return abort(fmt.Errorf("starting http server: %w", startErr))
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing http server", "error", closeErr)
			}
		}()
	}

	if err := <-runErr; err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}

	st := gw.Stats()
	log.Info("shutdown complete",
		"messages_received", st.MessagesReceived,
		"frames_written", st.FramesWritten,
		"frames_dropped", st.FramesDropped,
	)
	return nil
}
