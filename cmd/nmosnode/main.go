// Command nmosnode runs an NMOS media node.
//
// The node serves the Node and Connection APIs, registers with an RDS,
// reconciles registry-held routes and bridges event grains over MQTT.
// Configuration is read from NMOS_CONFIG or configs/config.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/dhpke/nmos-core/migrations"

	"github.com/dhpke/nmos-core/internal/api"
	"github.com/dhpke/nmos-core/internal/infrastructure/config"
	"github.com/dhpke/nmos-core/internal/infrastructure/database"
	"github.com/dhpke/nmos-core/internal/infrastructure/influxdb"
	"github.com/dhpke/nmos-core/internal/infrastructure/logging"
	"github.com/dhpke/nmos-core/internal/infrastructure/mqtt"
	"github.com/dhpke/nmos-core/internal/node"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnv         = "NMOS_CONFIG"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "nmosnode:", err)
		os.Exit(1)
	}
}

// infra holds the node's backing services. mqtt and influx are nil when
// their sections are disabled.
type infra struct {
	db     *database.DB
	mqtt   *mqtt.Client
	influx *influxdb.Client

	closers []func()
}

// close releases everything opened so far, newest first.
func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

func (in *infra) onClose(log *logging.Logger, what string, fn func() error) {
	in.closers = append(in.closers, func() {
		log.Info("closing " + what)
		if err := fn(); err != nil {
			log.Error("closing "+what+" failed", "error", err)
		}
	})
}

// openInfra opens the database (migrated), then the broker and InfluxDB
// connections when enabled. On error whatever was opened is closed again.
func openInfra(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	if in.db, err = database.Open(cfg.Database); err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	in.onClose(log, "database", in.db.Close)
	if err = in.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	if cfg.MQTT.Enabled {
		if in.mqtt, err = mqtt.Connect(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		in.onClose(log, "MQTT connection", in.mqtt.Close)

		mqttLog := log.Component("mqtt")
		in.mqtt.SetLogger(mqttLog)
		in.mqtt.SetOnConnect(func() { mqttLog.Info("broker link up") })
		in.mqtt.SetOnDisconnect(func(err error) { mqttLog.Warn("broker link down", "error", err) })
		mqttLog.Info("connected",
			"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	if cfg.InfluxDB.Enabled {
		if in.influx, err = influxdb.Connect(cfg.InfluxDB); err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		in.onClose(log, "InfluxDB connection", in.influx.Close)

		influxLog := log.Component("telemetry")
		in.influx.SetOnError(func(err error) { influxLog.Error("point write failed", "error", err) })
		influxLog.Info("connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	return in, nil
}

// healthCheck fails on the first unhealthy service.
func (in *infra) healthCheck(ctx context.Context) error {
	if err := in.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if in.mqtt != nil {
		if err := in.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if in.influx != nil {
		if err := in.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// run starts the node and blocks until ctx is cancelled. It returns nil on a
// clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("nmosnode starting", "version", version, "commit", commit, "build_date", date)

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "level", cfg.Logging.Level)

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	opts := node.Options{
		Config:      cfg,
		Version:     version,
		Logger:      log,
		DB:          in.db.DB,
		Broadcaster: hub,
	}
	// Optional services are assigned only when present so the interface
	// fields stay nil rather than holding typed nil pointers.
	if in.mqtt != nil {
		opts.MQTT = in.mqtt
	}
	if in.influx != nil {
		opts.Telemetry = in.influx
	}

	inst, err := node.Start(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	in.closers = append(in.closers, func() {
		log.Info("stopping node")
		inst.Stop()
	})
	log.Info("node started",
		"node_id", inst.NodeID,
		"device_id", inst.DeviceID,
		"senders", len(cfg.Node.Senders),
		"receivers", len(cfg.Node.Receivers),
	)

	server, err := api.New(apiDeps(cfg, log, inst, hub, in))
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	in.onClose(log, "API server", server.Close)

	if err := in.healthCheck(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("node ready")
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func apiDeps(cfg *config.Config, log *logging.Logger, inst *node.Instance, hub *api.Hub, in *infra) api.Deps {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Node:     inst,
		Hub:      hub,
		Version:  version,
	}
	if in.mqtt != nil {
		deps.MQTT = in.mqtt
	}
	if in.influx != nil {
		in.influx.SetTag("node_id", inst.NodeID)
		deps.Telemetry = in.influx
	}
	return deps
}

// getConfigPath prefers NMOS_CONFIG over the default path.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
