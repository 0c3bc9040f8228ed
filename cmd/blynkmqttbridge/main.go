// BlynkMqttBridge connects one Blynk device session to an MQTT broker.
//
// Values published on mapped MQTT topics are written to Blynk virtual pins
// and virtual pin updates from the Blynk server are published back to MQTT,
// each passing through the encoder configured for that mapping.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cziter15/BlynkMqttBridge/internal/api"
	"github.com/cziter15/BlynkMqttBridge/internal/blynk"
	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/influxdb"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/logging"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/metrics"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/mqtt"
	"github.com/cziter15/BlynkMqttBridge/internal/journal"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "BLYNKMQTT_CONFIG"
)

var _ bridge.PubSub = (*mqtt.Client)(nil)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	verbose     bool
	dump        bool
	showVersion bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("blynkmqttbridge", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file (YAML or TOML); env "+configEnvVar)
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection and transfer events (at least info)")
	fs.BoolVarP(&opts.dump, "dump", "d", false, "force debug logging with per-frame detail")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// effectiveLevel applies the command-line overrides to the configured log
// level. --dump wins over --verbose; neither raises a lower threshold.
func effectiveLevel(configured string, opts options) string {
	switch {
	case opts.dump:
		return "debug"
	case opts.verbose && configured != "debug":
		return "info"
	default:
		return configured
	}
}

// getConfigPath returns BLYNKMQTT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the application body, separated from main for testability.
// It returns nil on a signal-driven shutdown.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "blynkmqttbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting BlynkMqttBridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logging.Level = effectiveLevel(cfg.Logging.Level, opts)
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath, "level", cfg.Logging.Level)

	// Mapping errors are fatal before anything is dialled.
	table, err := bridge.TableFromConfig(cfg.Topics)
	if err != nil {
		return fmt.Errorf("building mapping table: %w", err)
	}
	log.Info("mapping table built", "mappings", table.Len(), "subscriptions", len(table.ListenTopics()))

	blynkClient := blynk.New(blynk.Config{
		Address:        cfg.BlynkServer(),
		Token:          cfg.Blynk.Token,
		ConnectTimeout: cfg.ConnectTimeout(),
		LoginTimeout:   cfg.LoginTimeout(),
		PingInterval:   cfg.PingInterval(),
		MaxPayload:     cfg.Blynk.MaxPayload,
	})
	blynkClient.SetLogger(log.With("component", "blynk"))

	mqttClient, err := newMQTTClient(cfg)
	if err != nil {
		return err
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))

	recorders := bridge.Recorders{}
	var collector *metrics.Collector
	var hub *api.Hub

	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(blynkClient, mqttClient)
		recorders = append(recorders, collector)
	}
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.API.WebSocket, log.With("component", "websocket"))
		recorders = append(recorders, hub)
	}

	blynkLog := log.With("component", "blynk")
	blynkClient.SetOnPhaseChange(func(p blynk.Phase) {
		blynkLog.Debug("session phase changed", "phase", p.String())
		if collector != nil {
			collector.SetPhase(p)
		}
	})

	if cfg.Journal.Enabled {
		j, err := startJournal(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := j.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		recorders = append(recorders, j)
	}

	if cfg.InfluxDB.Enabled {
		if influx := connectInfluxDB(ctx, cfg, log); influx != nil {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			recorders = append(recorders, influx)
		}
	}

	router, err := bridge.NewRouter(bridge.RouterOptions{
		Table:    table,
		Device:   blynkClient,
		PubSub:   mqttClient,
		EchoTTL:  cfg.EchoTTL(),
		Recorder: recorders,
		Logger:   log.With("component", "router"),
	})
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	// Without a status topic the reporter only backs /api/v1/status.
	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Topic:     cfg.Bridge.StatusTopic,
		Version:   version,
		Server:    cfg.BlynkServer(),
		Interval:  cfg.HealthInterval(),
		Publisher: mqttClient,
		Session:   blynkClient,
		Router:    router,
	})
	health.SetLogger(log.With("component", "health"))

	if cfg.Metrics.Enabled {
		server, err := startAPIServer(ctx, cfg, log, apiDeps{
			collector: collector,
			hub:       hub,
			health:    health,
			table:     table,
			device:    blynkClient,
			pubsub:    mqttClient,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	supervisor, err := bridge.NewSupervisor(bridge.SupervisorOptions{
		Device: blynkClient,
		PubSub: mqttClient,
		Router: router,
		Health: health,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		supervisor.Stop()
	}()

	log.Info("bridge running",
		"blynk", cfg.BlynkServer(),
		"mqtt", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
		"recorders", len(recorders),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: bridge, API server, InfluxDB,
	// journal.
	return nil
}

// newMQTTClient builds the MQTT client, with an offline last will on the
// status topic when health reporting is enabled.
func newMQTTClient(cfg *config.Config) (*mqtt.Client, error) {
	var opts []mqtt.Option
	if cfg.Bridge.StatusTopic != "" {
		lwt, err := bridge.LWTPayload()
		if err != nil {
			return nil, fmt.Errorf("building last will: %w", err)
		}
		opts = append(opts, mqtt.WithWill(cfg.Bridge.StatusTopic, lwt, byte(cfg.MQTT.QoS))) //nolint:gosec // QoS validated 0-2
	}
	return mqtt.New(cfg.MQTT, opts...), nil
}

func startJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*journal.Journal, error) {
	j, err := journal.Open(ctx, journal.Config{
		Path:        cfg.Journal.Path,
		WALMode:     cfg.Journal.WALMode,
		BusyTimeout: cfg.Journal.BusyTimeout,
		Retention:   cfg.JournalRetention(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j.SetLogger(log.With("component", "journal"))
	j.Start(ctx)

	log.Info("journal opened",
		"path", cfg.Journal.Path,
		"retention", cfg.JournalRetention().String(),
	)
	return j, nil
}

// connectInfluxDB returns nil when the server cannot be reached; telemetry
// is optional and never stops the bridge.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry disabled", "url", cfg.InfluxDB.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client
}

type apiDeps struct {
	collector *metrics.Collector
	hub       *api.Hub
	health    *bridge.HealthReporter
	table     *bridge.Table
	device    *blynk.Client
	pubsub    *mqtt.Client
}

// startAPIServer serves /metrics and /health, plus /api/v1 when the API
// is enabled. A bind failure is fatal.
func startAPIServer(ctx context.Context, cfg *config.Config, log *logging.Logger, deps apiDeps) (*api.Server, error) {
	server, err := api.New(api.Deps{
		Addr:     cfg.Metrics.Listen,
		Config:   cfg.API,
		Logger:   log.With("component", "api"),
		Registry: deps.collector.Registry(),
		Health:   healthFunc(deps.device, deps.pubsub),
		Status:   deps.health,
		Mappings: deps.table,
		Hub:      deps.hub,
		Version:  version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}

	log.Info("API server listening",
		"addr", server.Addr(),
		"api", cfg.API.Enabled,
		"auth", cfg.API.JWTSecret != "",
	)
	return server, nil
}

// healthFunc reports unhealthy while either transport is down.
func healthFunc(device *blynk.Client, pubsub *mqtt.Client) api.HealthFunc {
	return func(ctx context.Context) error {
		if err := pubsub.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		if !device.IsConnected() {
			return blynk.ErrNotConnected
		}
		return nil
	}
}
