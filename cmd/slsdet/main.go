// slsdet bridges SLS detectors to MQTT, a REST/WebSocket API and a local
// parameter history.
//
// Usage:
//
//	slsdet                         run the bridge (config from SLSDET_CONFIG)
//	slsdet token <subject> [role]  print an API token (role: viewer|operator)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-slsdet/internal/api"
	"github.com/nerrad567/gray-logic-slsdet/internal/auth"
	"github.com/nerrad567/gray-logic-slsdet/internal/bridges/slsdet"
	"github.com/nerrad567/gray-logic-slsdet/internal/detector"
	"github.com/nerrad567/gray-logic-slsdet/internal/history"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-slsdet/internal/port"
	"github.com/nerrad567/gray-logic-slsdet/internal/receiver"
	"github.com/nerrad567/gray-logic-slsdet/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// pruneInterval is how often expired history rows are deleted.
const pruneInterval = time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runToken prints a signed API token for subject. The role defaults to
// viewer.
func runToken(args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: slsdet token <subject> [viewer|operator]")
	}
	role := auth.RoleViewer
	if len(args) == 2 {
		role = auth.Role(args[1])
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set (SLSDET_JWT_SECRET)")
	}

	token, err := auth.GenerateToken(args[0], role, cfg.Security.JWT.Secret, cfg.GetTokenTTL())
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// run is the bridge lifecycle, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting slsdet",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.Path()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"port", cfg.Detector.PortName,
		"hostname", cfg.Detector.Hostname,
	)

	// Database and parameter history
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	store := history.NewStore(db.DB)
	log.Info("database ready", "path", cfg.Database.Path)

	// Detector port
	sim := detector.NewSimulator(cfg.SimulatorHosts()...)
	sim.SetLatency(cfg.Detector.Simulator.Latency)

	p, err := port.New(port.Config{
		Name:           cfg.Detector.PortName,
		Hostname:       cfg.Detector.Hostname,
		ID:             cfg.Detector.ID,
		Timeout:        cfg.Detector.Timeout,
		ConnectTimeout: cfg.Detector.ConnectTimeout,
		PollInterval:   cfg.Detector.PollInterval,
		ExitWait:       cfg.Detector.ExitWait,
	}, sim)
	if err != nil {
		return fmt.Errorf("creating detector port: %w", err)
	}
	p.SetLogger(log)
	defer func() {
		log.Info("closing detector port")
		if closeErr := p.Close(); closeErr != nil {
			log.Error("error closing detector port", "error", closeErr)
		}
	}()

	bridgeCfg := slsdet.Config{
		ID:             cfg.Bridge.ID,
		Version:        version,
		PollInterval:   cfg.Bridge.PollInterval,
		HealthInterval: cfg.Bridge.HealthInterval,
	}
	opts := slsdet.BridgeOptions{
		Config:  bridgeCfg,
		Port:    p,
		History: store,
		Logger:  log,
	}
	checkers := map[string]api.HealthChecker{"database": db}

	// MQTT (optional)
	if cfg.MQTT.Enabled {
		mqttClient, err := connectMQTT(cfg, bridgeCfg.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		opts.MQTTClient = &mqttBridgeAdapter{client: mqttClient}
		checkers["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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

		opts.Telemetry = influxClient
		checkers["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := slsdet.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// slsReceiver (optional)
	var rx *receiver.Supervisor
	if cfg.Receiver.Managed {
		rx, err = receiver.New(receiver.FromConfig(cfg.Receiver))
		if err != nil {
			return fmt.Errorf("creating receiver supervisor: %w", err)
		}
		rx.SetLogger(log)
		if err := rx.Start(ctx); err != nil {
			return fmt.Errorf("starting slsReceiver: %w", err)
		}
		defer func() {
			if stopErr := rx.Stop(); stopErr != nil {
				log.Error("error stopping slsReceiver", "error", stopErr)
			}
		}()
	}

	// REST + WebSocket API (optional)
	var srv *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Security:       cfg.Security,
			Logger:         log,
			Port:           p,
			History:        store,
			Bridge:         bridge,
			HealthCheckers: checkers,
			Version:        version,
		}
		if rx != nil {
			deps.Receiver = rx
		}
		srv, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	// The port calls this with an address lock held; both sinks only queue.
	p.SetOnUpdate(func(u port.Update) {
		bridge.HandleUpdate(u)
		if srv != nil {
			srv.BroadcastUpdate(u)
		}
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if srv != nil {
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	n, err := p.ConnectAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("initial connect incomplete", "error", err)
	}
	log.Info("initialisation complete",
		"detectors", p.NumAddresses(),
		"connected", n,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pruneHistory(gctx, store, cfg.Database.HistoryRetention, log)
		return nil
	})

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	_ = g.Wait() //nolint:errcheck // prune loop never fails

	return nil
}

// connectMQTT connects with the bridge's offline health message as will.
func connectMQTT(cfg *config.Config, bridgeID string) (*mqtt.Client, error) {
	lwt, err := json.Marshal(slsdet.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding will: %w", err)
	}
	return mqtt.ConnectWithWill(cfg.MQTT, mqtt.Will{
		Topic:   slsdet.HealthTopic(),
		Payload: lwt,
	})
}

// pruneHistory deletes history older than retention every pruneInterval
// until ctx is done. A zero retention keeps everything.
func pruneHistory(ctx context.Context, store *history.Store, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}

	prune := func() {
		n, err := store.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("history pruned", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The infrastructure handler returns an error; the
// bridge's does not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements slsdet.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements slsdet.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements slsdet.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements slsdet.MQTTClient. The client is closed by run's
// defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
