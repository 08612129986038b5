package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dhpke/nmos-core/internal/audit"
	"github.com/dhpke/nmos-core/internal/bridges/is07"
	"github.com/dhpke/nmos-core/internal/connection"
	"github.com/dhpke/nmos-core/internal/grain"
	"github.com/dhpke/nmos-core/internal/infrastructure/config"
	"github.com/dhpke/nmos-core/internal/infrastructure/logging"
	"github.com/dhpke/nmos-core/internal/nmostime"
	"github.com/dhpke/nmos-core/internal/registration"
	"github.com/dhpke/nmos-core/internal/registry"
	"github.com/dhpke/nmos-core/internal/resource"
	"github.com/dhpke/nmos-core/internal/routing"
)

// Telemetry receives command events and route changes. *influxdb.Client
// satisfies it.
type Telemetry interface {
	WriteCommandEvent(ev grain.CommandEvent)
	WriteRouteChange(op, senderID, receiverID string, ok bool)
}

// Options configures Start. Only Config is required.
type Options struct {
	Config  *config.Config
	Version string
	Logger  *logging.Logger

	// DB stores snapshots and the audit trail. Without it snapshot
	// operations return routing.ErrNoRepository and nothing is audited.
	DB *sql.DB

	// MQTT carries event grains. Required when events are enabled.
	MQTT is07.MQTTClient

	Telemetry   Telemetry
	Broadcaster is07.Broadcaster

	// Registry and Query replace the registry client built from config.
	Registry registration.Registry
	Query    routing.Registry

	// Connector replaces the connection API client used by the reconciler.
	Connector routing.Connector
}

// Instance is a running node. Components that are disabled in config
// are nil.
type Instance struct {
	Config      *config.Config
	Version     string
	StartedAt   time.Time
	NodeID      string
	DeviceID    string
	EventSource EventSource

	Graph       *resource.Graph
	Connections *connection.Manager
	Registrar   *registration.Registrar
	Reconciler  *routing.Reconciler
	Bridge      *is07.Bridge
	Status      *is07.StatusReporter
	AuditLog    audit.Repository
	Audit       *audit.Recorder

	logger *logging.Logger
}

// Start builds and starts a node. ctx bounds the background loops; call
// Stop for an orderly shutdown.
func Start(ctx context.Context, opts Options) (*Instance, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("node: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	nmostime.SetLeapSeconds(int(cfg.Time.LeapSeconds))

	id := identity(cfg)
	graph, endpoints, events, err := buildGraph(cfg, id)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		Config:      cfg,
		Version:     opts.Version,
		StartedAt:   time.Now(),
		NodeID:      id.NodeID,
		DeviceID:    id.DeviceID,
		EventSource: events,
		Graph:       graph,
		logger:      log,
	}

	var recorder *audit.Recorder
	if opts.DB != nil {
		repo := audit.NewSQLiteRepository(opts.DB)
		recorder = audit.NewRecorder(repo)
		recorder.SetLogger(log.Component("audit"))
		inst.AuditLog = repo
		inst.Audit = recorder
	}

	var regClient *registry.Client
	needsRegistry := (cfg.Registration.Enabled && opts.Registry == nil) ||
		(cfg.Routing.Enabled && opts.Query == nil)
	if needsRegistry {
		regClient, err = registry.New(registry.Config{
			BaseURL:      cfg.Registry.URL,
			QueryURL:     cfg.Registry.QueryURL,
			APIVersion:   cfg.Registry.APIVersion,
			ReadTimeout:  cfg.Registry.ReadTimeout,
			WriteTimeout: cfg.Registry.WriteTimeout,
			PageLimit:    cfg.Registry.PageLimit,
			Authorizer:   authorizer(cfg.Registry.Auth, id.NodeID),
		})
		if err != nil {
			return nil, fmt.Errorf("creating registry client: %w", err)
		}
	}

	if cfg.Registration.Enabled {
		var api registration.Registry = regClient
		if opts.Registry != nil {
			api = opts.Registry
		}
		inst.Registrar = registration.New(api, graph, registration.Config{
			HeartbeatInterval: cfg.Registration.HeartbeatInterval,
			PostDelay:         cfg.Registration.PostDelay,
			RetryBackoff:      cfg.Registration.RetryBackoff,
			UnregisterTimeout: cfg.Registration.UnregisterTimeout,
		})
		inst.Registrar.SetLogger(log.Component("registration"))
		inst.Registrar.OnStatusChange(func(st registration.Status) {
			if opts.Broadcaster != nil {
				opts.Broadcaster.Broadcast(BroadcastRegistration, st)
			}
		})
	}

	inst.Connections = connection.NewManager(cfg.Connection.SchedulerInterval)
	inst.Connections.SetLogger(log.Component("connection"))
	for _, e := range endpoints {
		if err := inst.Connections.Add(e); err != nil {
			return nil, fmt.Errorf("adding endpoint %s: %w", e.ID(), err)
		}
	}
	inst.Connections.SetNotifier(&subscriptionSync{
		graph:     graph,
		registrar: inst.Registrar,
		logger:    log.Component("connection"),
	})

	if cfg.Routing.Enabled {
		var query routing.Registry = regClient
		if opts.Query != nil {
			query = opts.Query
		}
		var conn routing.Connector = opts.Connector
		if conn == nil {
			conn = connection.NewClient(nil, cfg.Connection.ClientTimeout, authorizer(cfg.Registry.Auth, id.NodeID))
		}
		inst.Reconciler = routing.New(query, conn, routing.Config{
			RefreshInterval: cfg.Routing.RefreshInterval,
			MaxAttempts:     cfg.Routing.MaxAttempts,
			BaseDelay:       cfg.Routing.BaseDelay,
			MaxDelay:        cfg.Routing.MaxDelay,
			ForwardManifest: cfg.Routing.ForwardManifest,
		})
		inst.Reconciler.SetLogger(log.Component("routing"))
		if opts.DB != nil {
			inst.Reconciler.SetSnapshotRepository(routing.NewSQLiteSnapshotRepository(opts.DB))
			inst.Reconciler.SetAuditor(recorder)
		}
		if opts.Telemetry != nil {
			inst.Reconciler.AddNotifier(routeTelemetry{t: opts.Telemetry})
		}
		if opts.Broadcaster != nil {
			inst.Reconciler.AddNotifier(routeBroadcast{b: opts.Broadcaster})
		}
	}

	if cfg.Events.Enabled {
		if opts.MQTT == nil {
			return nil, errors.New("node: events enabled without an MQTT client")
		}
		var telemetry is07.Telemetry
		if opts.Telemetry != nil {
			telemetry = opts.Telemetry
		}
		inst.Bridge, err = is07.New(is07.Options{
			Client:        opts.MQTT,
			SourceID:      events.SourceID,
			FlowID:        events.FlowID,
			EventType:     cfg.Events.EventType,
			Subscriptions: cfg.Events.Subscribe,
			History:       grain.NewHistory(cfg.Events.HistorySize),
			Telemetry:     telemetry,
			Broadcaster:   opts.Broadcaster,
			Logger:        log.Component("events"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating event bridge: %w", err)
		}
		inst.Connections.OnActivated(inst.Bridge.HandleActivation)

		statusCfg := is07.StatusConfig{
			NodeID:    id.NodeID,
			Version:   opts.Version,
			Interval:  cfg.Events.StatusInterval,
			Publisher: opts.MQTT,
			Bridge:    inst.Bridge,
		}
		if inst.Registrar != nil {
			statusCfg.Registration = inst.Registrar.Status
		}
		inst.Status = is07.NewStatusReporter(statusCfg)
		inst.Status.SetLogger(log.Component("status"))
	}

	// Start order: local scheduler, outward registration, then consumers.
	inst.Connections.Start(ctx)
	if inst.Registrar != nil {
		inst.Registrar.Start(ctx)
	}
	if inst.Reconciler != nil {
		inst.Reconciler.Start(ctx)
	}
	if inst.Bridge != nil {
		if err := inst.Bridge.Start(ctx); err != nil {
			inst.Stop()
			return nil, fmt.Errorf("starting event bridge: %w", err)
		}
		if err := inst.Status.PublishStarting(); err != nil {
			log.Warn("failed to publish starting status", "error", err)
		}
		inst.Status.Start(ctx)
	}

	log.Info("node started",
		"node_id", id.NodeID,
		"device_id", id.DeviceID,
		"senders", len(cfg.Node.Senders),
		"receivers", len(cfg.Node.Receivers),
		"registration", cfg.Registration.Enabled,
		"routing", cfg.Routing.Enabled,
		"events", cfg.Events.Enabled,
	)
	return inst, nil
}

// Stop shuts the node down: the activation scheduler and event traffic
// stop first, then the registrar unregisters within its own timeout.
func (i *Instance) Stop() {
	i.Connections.Stop()
	if i.Status != nil {
		i.Status.Stop()
	}
	if i.Bridge != nil {
		i.Bridge.Stop()
	}
	if i.Reconciler != nil {
		i.Reconciler.Stop()
	}
	if i.Registrar != nil {
		i.Registrar.Stop()
	}
	i.logger.Info("node stopped", "node_id", i.NodeID)
}

// Uptime returns how long the node has been running.
func (i *Instance) Uptime() time.Duration {
	return time.Since(i.StartedAt)
}
