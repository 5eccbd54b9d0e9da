package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole of config.yaml.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Brickd    BrickdConfig    `yaml:"brickd"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`

	// Things are imported into the registry on startup when absent.
	Things []ThingConfig `yaml:"things"`
}

// BridgeConfig identifies the service instance.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	HealthInterval int    `yaml:"health_interval"` // seconds
	// HistoryRetention is how many days of channel state history and audit
	// entries are kept. 0 keeps everything.
	HistoryRetention int `yaml:"history_retention"`
}

// BrickdConfig contains the brickd MQTT proxy settings.
type BrickdConfig struct {
	// TopicPrefix is the proxy's global topic prefix.
	TopicPrefix string `yaml:"topic_prefix"`

	// BridgeThing is the ID of the thing representing the brickd bridge.
	BridgeThing string `yaml:"bridge_thing"`

	// Proxy configures the optional managed tinkerforge_mqtt process.
	Proxy ProxyConfig `yaml:"proxy"`
}

// ProxyConfig contains settings for managing the tinkerforge_mqtt proxy.
type ProxyConfig struct {
	// Managed indicates whether the service should start and supervise the proxy.
	// If false, the proxy is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the proxy executable.
	Binary string `yaml:"binary"`

	// BrickdHost and BrickdPort locate the brickd daemon the proxy connects to.
	BrickdHost string `yaml:"brickd_host"`
	BrickdPort int    `yaml:"brickd_port"`

	// ExtraArgs are appended to the generated command line.
	ExtraArgs []string `yaml:"extra_args"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig values are in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what browsers on other origins may call. No origins
// allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables channel state telemetry. FlushInterval is in
// seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or file. "file" writes to FilePath.
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type SecurityConfig struct {
	JWT   JWTConfig     `yaml:"jwt"`
	Admin AccountConfig `yaml:"admin"`

	// Viewers may read things and history but not change or command them.
	Viewers []AccountConfig `yaml:"viewers"`
}

type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// AccountConfig is an API account.
type AccountConfig struct {
	Username string `yaml:"username"`
	// PasswordHash is an argon2id PHC string, see auth.HashPassword.
	PasswordHash string `yaml:"password_hash"`
}

// ThingConfig is a thing definition imported on startup.
type ThingConfig struct {
	ID             string                    `yaml:"id"`
	Label          string                    `yaml:"label"`
	ThingType      string                    `yaml:"thing_type"`
	BridgeID       string                    `yaml:"bridge_id"`
	Config         map[string]any            `yaml:"config"`
	ChannelConfig  map[string]map[string]any `yaml:"channel_config"`
	LinkedChannels []string                  `yaml:"linked_channels"`
}

// DefaultPath is used when TFBRIDGE_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// PathFromEnv returns the configuration file path from TFBRIDGE_CONFIG,
// falling back to DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("TFBRIDGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load builds a Config from defaults, then the YAML file at path, then
// TFBRIDGE_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// defaultConfig is what an empty config.yaml yields.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:               "tfbridge",
			Name:             "Tinkerforge Bridge",
			HealthInterval:   30,
			HistoryRetention: 30,
		},
		Brickd: BrickdConfig{
			TopicPrefix: "tinkerforge",
			BridgeThing: "brickd",
			Proxy: ProxyConfig{
				Binary:              "/usr/bin/tinkerforge_mqtt",
				BrickdHost:          "localhost",
				BrickdPort:          4223,
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/tfbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tfbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Admin: AccountConfig{
				Username: "admin",
			},
		},
	}
}

// envStrings and envInts map TFBRIDGE_* variables onto config fields. An
// empty variable leaves the field alone, as does an int that does not parse.
var (
	envStrings = map[string]func(*Config) *string{
		"TFBRIDGE_BRIDGE_ID":           func(c *Config) *string { return &c.Bridge.ID },
		"TFBRIDGE_BRICKD_TOPIC_PREFIX": func(c *Config) *string { return &c.Brickd.TopicPrefix },
		"TFBRIDGE_BRICKD_HOST":         func(c *Config) *string { return &c.Brickd.Proxy.BrickdHost },
		"TFBRIDGE_DATABASE_PATH":       func(c *Config) *string { return &c.Database.Path },
		"TFBRIDGE_MQTT_HOST":           func(c *Config) *string { return &c.MQTT.Broker.Host },
		"TFBRIDGE_MQTT_USERNAME":       func(c *Config) *string { return &c.MQTT.Auth.Username },
		"TFBRIDGE_MQTT_PASSWORD":       func(c *Config) *string { return &c.MQTT.Auth.Password },
		"TFBRIDGE_API_HOST":            func(c *Config) *string { return &c.API.Host },
		"TFBRIDGE_INFLUXDB_TOKEN":      func(c *Config) *string { return &c.InfluxDB.Token },
		"TFBRIDGE_LOG_LEVEL":           func(c *Config) *string { return &c.Logging.Level },
		"TFBRIDGE_JWT_SECRET":          func(c *Config) *string { return &c.Security.JWT.Secret },
		"TFBRIDGE_ADMIN_PASSWORD_HASH": func(c *Config) *string { return &c.Security.Admin.PasswordHash },
	}
	envInts = map[string]func(*Config) *int{
		"TFBRIDGE_MQTT_PORT": func(c *Config) *int { return &c.MQTT.Broker.Port },
		"TFBRIDGE_API_PORT":  func(c *Config) *int { return &c.API.Port },
	}
)

func applyEnvOverrides(cfg *Config) {
	for name, field := range envStrings {
		if v := os.Getenv(name); v != "" {
			*field(cfg) = v
		}
	}
	for name, field := range envInts {
		if n, err := strconv.Atoi(os.Getenv(name)); err == nil {
			*field(cfg) = n
		}
	}
}

// Validate reports every problem in one error rather than stopping at the
// first.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 0 {
		errs = append(errs, "bridge.health_interval must not be negative")
	}

	if c.Brickd.TopicPrefix == "" || strings.ContainsAny(c.Brickd.TopicPrefix, "+#") {
		errs = append(errs, "brickd.topic_prefix must be a non-empty topic without wildcards")
	}
	if c.Brickd.BridgeThing == "" {
		errs = append(errs, "brickd.bridge_thing is required")
	}
	if c.Brickd.Proxy.Managed && c.Brickd.Proxy.Binary == "" {
		errs = append(errs, "brickd.proxy.binary is required when the proxy is managed")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		errs = append(errs, "logging.file_path is required when logging.output is file")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API grants command access to actuators, so a forgeable token
		// is not acceptable.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set TFBRIDGE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	for i, v := range c.Security.Viewers {
		if v.Username == "" || v.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("security.viewers[%d] needs username and password_hash", i))
		}
		if v.Username == c.Security.Admin.Username {
			errs = append(errs, fmt.Sprintf("security.viewers[%d].username %q is the admin account", i, v.Username))
		}
	}

	seen := make(map[string]bool, len(c.Things))
	for i, t := range c.Things {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Sprintf("things[%d].id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Sprintf("things[%d].id %q is duplicated", i, t.ID))
		}
		seen[t.ID] = true
		if t.ThingType == "" {
			errs = append(errs, fmt.Sprintf("things[%d].thing_type is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetHealthInterval returns the health publishing interval.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetHistoryRetention returns how long state history and audit entries are
// kept. Zero means forever.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Bridge.HistoryRetention) * 24 * time.Hour
}
