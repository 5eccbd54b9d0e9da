package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/tinkerforge-bridge/internal/auth"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TFBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
bridge:
  id: test-bridge
database:
  path: ""
influxdb:
  enabled: false
api:
  enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TFBRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

func TestHashPassword(t *testing.T) {
	for _, args := range [][]string{nil, {""}, {"a", "b"}} {
		if err := hashPassword(&bytes.Buffer{}, args); err == nil {
			t.Errorf("hashPassword(%q) expected usage error", args)
		}
	}

	var out bytes.Buffer
	if err := hashPassword(&out, []string{"s3cret"}); err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	ok, err := auth.VerifyPassword("s3cret", hash)
	if err != nil || !ok {
		t.Errorf("VerifyPassword(printed hash) = %v, %v, want true", ok, err)
	}
}

func TestNewAuthenticator(t *testing.T) {
	adminHash, err := auth.HashPassword("admin-pw")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	viewerHash, err := auth.HashPassword("viewer-pw")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	a, err := newAuthenticator(config.SecurityConfig{
		JWT:     config.JWTConfig{Secret: strings.Repeat("k", 32), AccessTokenTTL: 5},
		Admin:   config.AccountConfig{Username: "admin", PasswordHash: adminHash},
		Viewers: []config.AccountConfig{{Username: "wall-panel", PasswordHash: viewerHash}},
	})
	if err != nil {
		t.Fatalf("newAuthenticator() error = %v", err)
	}
	if a.TTL() != 5*time.Minute {
		t.Errorf("TTL() = %v, want 5m", a.TTL())
	}

	tests := []struct {
		user, pass string
		want       auth.Role
	}{
		{"admin", "admin-pw", auth.RoleAdmin},
		{"wall-panel", "viewer-pw", auth.RoleViewer},
	}
	for _, tt := range tests {
		token, _, err := a.Login(tt.user, tt.pass)
		if err != nil {
			t.Fatalf("Login(%s) error = %v", tt.user, err)
		}
		claims, err := a.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if claims.Role != tt.want {
			t.Errorf("%s role = %q, want %q", tt.user, claims.Role, tt.want)
		}
	}
}

func TestNewAuthenticator_AdminWithoutHash(t *testing.T) {
	a, err := newAuthenticator(config.SecurityConfig{
		JWT:   config.JWTConfig{Secret: strings.Repeat("k", 32), AccessTokenTTL: 15},
		Admin: config.AccountConfig{Username: "admin"},
	})
	if err != nil {
		t.Fatalf("newAuthenticator() error = %v", err)
	}
	if _, _, err := a.Login("admin", ""); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func testRegistry(t *testing.T) *thing.Registry {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry := thing.NewRegistry(thing.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return registry
}

func TestSeedThings(t *testing.T) {
	ctx := context.Background()
	registry := testRegistry(t)

	cfg := &config.Config{
		Brickd: config.BrickdConfig{BridgeThing: "brickd"},
		Things: []config.ThingConfig{
			{
				ID:             "temp-office",
				Label:          "Office temperature",
				ThingType:      "temperature",
				BridgeID:       "brickd",
				Config:         map[string]any{"uid": "t1"},
				LinkedChannels: []string{"temperature"},
			},
			{
				ID:            "relay-hall",
				ThingType:     "industrialquadrelay",
				Config:        map[string]any{"uid": "r1"},
				ChannelConfig: map[string]map[string]any{"relay0": {"invert": true}},
			},
		},
	}

	if err := seedThings(ctx, registry, cfg); err != nil {
		t.Fatalf("seedThings() error = %v", err)
	}
	if n := registry.GetThingCount(); n != 3 {
		t.Fatalf("thing count = %d, want 3", n)
	}

	bridge, err := registry.GetThing(ctx, "brickd")
	if err != nil || bridge.ThingType != "brickd" {
		t.Fatalf("bridge thing = %+v, %v", bridge, err)
	}

	temp, err := registry.GetThing(ctx, "temp-office")
	if err != nil {
		t.Fatalf("GetThing() error = %v", err)
	}
	if temp.BridgeID == nil || *temp.BridgeID != "brickd" || temp.UID() != "t1" {
		t.Errorf("temp-office = %+v", temp)
	}

	// Existing things keep their stored definition.
	cfg.Things[0].Label = "Renamed"
	if err := seedThings(ctx, registry, cfg); err != nil {
		t.Fatalf("second seedThings() error = %v", err)
	}
	temp, _ = registry.GetThing(ctx, "temp-office") //nolint:errcheck // Checked above
	if temp.Label != "Office temperature" {
		t.Errorf("label = %q, seeding must not overwrite", temp.Label)
	}
}

func TestSeedThings_Invalid(t *testing.T) {
	cfg := &config.Config{
		Brickd: config.BrickdConfig{BridgeThing: "brickd"},
		Things: []config.ThingConfig{{ID: "Bad ID", ThingType: "temperature"}},
	}
	err := seedThings(context.Background(), testRegistry(t), cfg)
	if !errors.Is(err, thing.ErrInvalidThing) {
		t.Errorf("seedThings() error = %v, want ErrInvalidThing", err)
	}
}

func TestThingFromConfig(t *testing.T) {
	got := thingFromConfig(config.ThingConfig{
		ID:            "relay-hall",
		ThingType:     "industrialquadrelay",
		ChannelConfig: map[string]map[string]any{"relay0": {"invert": true}},
	})

	if got.BridgeID != nil {
		t.Errorf("BridgeID = %v, want nil", *got.BridgeID)
	}
	if got.Config == nil {
		t.Error("Config should default to an empty map")
	}
	want := map[string]thing.Config{"relay0": {"invert": true}}
	if diff := cmp.Diff(want, got.ChannelConfig); diff != "" {
		t.Errorf("ChannelConfig mismatch (-want +got):\n%s", diff)
	}
}

type fakeCheckpointer struct{ calls int }

func (c *fakeCheckpointer) Checkpoint(context.Context) error {
	c.calls++
	return nil
}

func TestEnforceRetention(t *testing.T) {
	var logs bytes.Buffer
	log := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &logs)

	var gotRetention time.Duration
	targets := []pruneTarget{
		{name: "state_history", prune: func(_ context.Context, olderThan time.Duration) (int64, error) {
			gotRetention = olderThan
			return 4, nil
		}},
		{name: "audit_logs", prune: func(context.Context, time.Duration) (int64, error) {
			return 0, errors.New("database is locked")
		}},
	}
	db := &fakeCheckpointer{}

	enforceRetention(context.Background(), targets, 48*time.Hour, db, log)

	if gotRetention != 48*time.Hour {
		t.Errorf("retention = %v, want 48h", gotRetention)
	}
	if db.calls != 1 {
		t.Errorf("checkpoints = %d, want 1", db.calls)
	}
	for _, want := range []string{"expired rows pruned", "table=state_history", "database is locked"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log output missing %q:\n%s", want, logs.String())
		}
	}
}

func TestRetentionLoop_NothingToPrune(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "test", &bytes.Buffer{})
	calls := 0
	targets := []pruneTarget{{name: "state_history", prune: func(context.Context, time.Duration) (int64, error) {
		calls++
		return 0, nil
	}}}
	db := &fakeCheckpointer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retentionLoop(ctx, targets, time.Hour, db, log)

	if calls != 1 {
		t.Errorf("prune calls = %d, want one pass before exiting", calls)
	}
	if db.calls != 0 {
		t.Errorf("checkpoints = %d, want none when nothing was deleted", db.calls)
	}
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := "bridge:\n  id: test-bridge\ndatabase:\n  path: " + filepath.Join(dir, "tfbridge.db") +
		"\ninfluxdb:\n  enabled: false\napi:\n  enabled: false\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("TFBRIDGE_CONFIG", configPath)
	ctx := context.Background()

	var out bytes.Buffer
	if err := migrateCommand(ctx, &out, []string{"up"}); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	if strings.Contains(out.String(), "pending") || !strings.Contains(out.String(), "applied  20260310_090000") {
		t.Errorf("migrate up output:\n%s", out.String())
	}

	out.Reset()
	if err := migrateCommand(ctx, &out, []string{"down"}); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if !strings.Contains(out.String(), "pending  20260310_090000  audit_logs") {
		t.Errorf("migrate down output:\n%s", out.String())
	}

	for _, args := range [][]string{{"sideways"}, {"up", "now"}} {
		if err := migrateCommand(ctx, &out, args); err == nil {
			t.Errorf("migrate %v should fail", args)
		}
	}
}
