// tfbridge exposes Tinkerforge bricklets as things with typed channels.
//
// It reads the brickd MQTT proxy, runs one handler per configured thing,
// republishes channel states and statuses under tfbridge/ and accepts
// channel commands over MQTT and the REST API.
//
// Usage:
//
//	tfbridge                      run the service (config from TFBRIDGE_CONFIG)
//	tfbridge hash-password PASS   print an argon2id hash for the config file
//	tfbridge migrate [status|up|down]
//	                              inspect or change the database schema
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/tinkerforge-bridge/migrations"

	"github.com/nerrad567/tinkerforge-bridge/internal/api"
	"github.com/nerrad567/tinkerforge-bridge/internal/audit"
	"github.com/nerrad567/tinkerforge-bridge/internal/auth"
	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tinkerforge"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinkerforge-bridge/internal/process"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// retentionInterval is how often expired history and audit rows are deleted.
const retentionInterval = time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrateCommand(ctx, os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword prints the argon2id hash of the single password argument.
func hashPassword(w io.Writer, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: tfbridge hash-password <password>")
	}
	hash, err := auth.HashPassword(args[0])
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// migrateCommand opens the configured database and applies, reverts or
// lists schema migrations.
func migrateCommand(ctx context.Context, w io.Writer, args []string) error {
	action := "status"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 || (action != "status" && action != "up" && action != "down") {
		return errors.New("usage: tfbridge migrate [status|up|down]")
	}

	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI

	switch action {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return err
		}
	}
	return printMigrationStatus(ctx, w, db)
}

func printMigrationStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	for _, r := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// run is the service lifecycle, separated from main for testability.
// Deferred cleanups run in reverse start order on shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting tfbridge", "version", version, "commit", commit, "build_date", date)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "bridge", cfg.Bridge.ID)

	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := thing.NewRegistry(thing.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading thing registry: %w", err)
	}
	if err := seedThings(ctx, registry, cfg); err != nil {
		return fmt.Errorf("seeding things: %w", err)
	}
	log.Info("thing registry loaded", "things", registry.GetThingCount())

	history := thing.NewSQLiteStateHistoryRepository(db.DB)

	influxClient, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	proxy := process.NewProxy(process.ProxyOptions{
		Proxy:       cfg.Brickd.Proxy,
		MQTT:        cfg.MQTT,
		TopicPrefix: cfg.Brickd.TopicPrefix,
		Logger:      log.Component("proxy"),
	})
	if err := proxy.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := proxy.Stop(); stopErr != nil {
			log.Error("error stopping brickd proxy", "error", stopErr)
		}
	}()

	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	opts := binding.Options{
		Registry:        registry,
		History:         history,
		MQTT:            &mqttAdapter{client: mqttClient},
		Events:          hub,
		TopicPrefix:     cfg.Brickd.TopicPrefix,
		DefaultBridgeID: cfg.Brickd.BridgeThing,
		Logger:          log.Component("binding"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	b, err := binding.New(opts)
	if err != nil {
		return fmt.Errorf("creating binding: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting binding: %w", err)
	}
	defer b.Stop()

	// Devices vanish with the broker connection or the proxy, and a
	// relaunched proxy has forgotten every callback registration.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
		b.TransportChanged(ctx, true)
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		b.TransportChanged(ctx, false)
	})
	proxy.SetOnRunningChange(func(running bool) {
		b.TransportChanged(ctx, running && mqttClient.IsConnected())
	})

	health := binding.NewHealthReporter(binding.HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   version,
		Interval:  time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		Publisher: mqttClient,
		Stats:     b,
	})
	health.SetLogger(log.Component("health"))
	if err := health.PublishStarting(); err != nil {
		log.Warn("publishing starting health", "error", err)
	}
	health.Start(ctx)
	defer health.Stop()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	if retention := cfg.GetHistoryRetention(); retention > 0 {
		targets := []pruneTarget{
			{name: "state_history", prune: history.PruneHistory},
			{name: "audit_logs", prune: auditRepo.Prune},
		}
		go retentionLoop(ctx, targets, retention, db, log)
	}

	if cfg.API.Enabled {
		srv, err := startAPI(ctx, cfg, api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Registry: registry,
			Binding:  b,
			History:  history,
			Audit:    auditRepo,
			MQTT:     mqttClient,
			DB:       db,
			Health:   health,
			Proxy:    proxy,
			Hub:      hub,
			Version:  version,
		})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startAPI builds the authenticator from the security section and starts the server.
func startAPI(ctx context.Context, cfg *config.Config, deps api.Deps) (*api.Server, error) {
	if cfg.Security.Admin.PasswordHash == "" {
		deps.Logger.Warn("security.admin.password_hash not set, admin login disabled")
	}
	authenticator, err := newAuthenticator(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	for _, username := range authenticator.WeakHashes() {
		deps.Logger.Warn("password hash uses outdated parameters, rerun tfbridge hash-password", "username", username)
	}
	deps.Auth = authenticator

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// newAuthenticator returns an authenticator for the configured admin and
// viewers. An admin without a password hash is left out.
func newAuthenticator(sec config.SecurityConfig) (*auth.Authenticator, error) {
	var accounts []auth.Account
	if sec.Admin.Username != "" && sec.Admin.PasswordHash != "" {
		accounts = append(accounts, auth.Account{
			Username:     sec.Admin.Username,
			PasswordHash: sec.Admin.PasswordHash,
			Role:         auth.RoleAdmin,
		})
	}
	for _, v := range sec.Viewers {
		accounts = append(accounts, auth.Account{
			Username:     v.Username,
			PasswordHash: v.PasswordHash,
			Role:         auth.RoleViewer,
		})
	}
	ttl := time.Duration(sec.JWT.AccessTokenTTL) * time.Minute
	return auth.NewAuthenticator(sec.JWT.Secret, ttl, accounts...)
}

// seedThings creates the brickd bridge thing and every configured thing
// that is not yet in the registry. Existing things are left untouched.
func seedThings(ctx context.Context, registry *thing.Registry, cfg *config.Config) error {
	defs := make([]*thing.Thing, 0, len(cfg.Things)+1)
	defs = append(defs, &thing.Thing{
		ID:        cfg.Brickd.BridgeThing,
		Label:     "brickd",
		ThingType: tinkerforge.BridgeThingType,
		Config:    thing.Config{},
	})
	for _, tc := range cfg.Things {
		defs = append(defs, thingFromConfig(tc))
	}

	for _, t := range defs {
		_, err := registry.GetThing(ctx, t.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, thing.ErrThingNotFound) {
			return err
		}
		if err := registry.CreateThing(ctx, t); err != nil {
			return fmt.Errorf("thing %q: %w", t.ID, err)
		}
	}
	return nil
}

func thingFromConfig(tc config.ThingConfig) *thing.Thing {
	t := &thing.Thing{
		ID:             tc.ID,
		Label:          tc.Label,
		ThingType:      tc.ThingType,
		Config:         thing.Config(tc.Config),
		LinkedChannels: tc.LinkedChannels,
	}
	if t.Config == nil {
		t.Config = thing.Config{}
	}
	if tc.BridgeID != "" {
		bridgeID := tc.BridgeID
		t.BridgeID = &bridgeID
	}
	if len(tc.ChannelConfig) > 0 {
		t.ChannelConfig = make(map[string]thing.Config, len(tc.ChannelConfig))
		for ch, c := range tc.ChannelConfig {
			t.ChannelConfig[ch] = thing.Config(c)
		}
	}
	return t
}

// pruneTarget deletes the rows of one table older than a retention period.
type pruneTarget struct {
	name  string
	prune func(ctx context.Context, olderThan time.Duration) (int64, error)
}

// checkpointer is implemented by *database.DB.
type checkpointer interface {
	Checkpoint(ctx context.Context) error
}

func retentionLoop(ctx context.Context, targets []pruneTarget, retention time.Duration, db checkpointer, log *logging.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()

	for {
		enforceRetention(ctx, targets, retention, db, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enforceRetention prunes every target and checkpoints the WAL when
// anything was deleted. A failing target does not stop the others.
func enforceRetention(ctx context.Context, targets []pruneTarget, retention time.Duration, db checkpointer, log *logging.Logger) {
	var deleted int64
	for _, t := range targets {
		n, err := t.prune(ctx, retention)
		if err != nil {
			log.Warn("pruning expired rows", "table", t.name, "error", err)
			continue
		}
		if n > 0 {
			log.Info("expired rows pruned", "table", t.name, "deleted", n, "retention", retention)
		}
		deleted += n
	}
	if deleted == 0 {
		return
	}
	if err := db.Checkpoint(ctx); err != nil {
		log.Warn("checkpointing after prune", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttAdapter adapts the infrastructure MQTT client to the binding and
// brickd transport interfaces, whose handlers do not return errors.
type mqttAdapter struct {
	client *mqtt.Client
}

func (a *mqttAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttAdapter) Unsubscribe(topic string) error { return a.client.Unsubscribe(topic) }

func (a *mqttAdapter) IsConnected() bool { return a.client.IsConnected() }
