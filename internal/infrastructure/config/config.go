package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when SLSDET_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Detector backends.
const (
	BackendSimulator = "simulator"
)

// Config is the root configuration structure for the SLS detector bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Detector  DetectorConfig  `yaml:"detector"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the beamline or lab the bridge runs at.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DetectorConfig describes the detector port.
type DetectorConfig struct {
	// PortName names the port in logs, MQTT topics and history rows.
	PortName string `yaml:"port_name"`

	// Hostname is a '+'-separated list; each entry becomes one address.
	Hostname string `yaml:"hostname"`

	// ID is the shared-memory id of address 0. Address a uses ID+a.
	ID int `yaml:"id"`

	// Backend selects the hardware library. Only "simulator" is built in.
	Backend string `yaml:"backend"`

	// Timeout bounds every parameter read and write.
	Timeout time.Duration `yaml:"timeout"`

	// ConnectTimeout bounds the online check made by Connect.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollInterval is the actor's reconnect and idle interval.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ExitWait bounds how long shutdown waits for a busy actor.
	ExitWait time.Duration `yaml:"exit_wait"`

	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig configures the built-in simulated detectors.
type SimulatorConfig struct {
	// Hosts are the hostnames that answer. Defaults to every hostname
	// in detector.hostname.
	Hosts []string `yaml:"hosts"`

	// Latency is added to every simulated hardware call.
	Latency time.Duration `yaml:"latency"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	ID             string        `yaml:"id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// ReceiverConfig contains settings for managing the slsReceiver daemon.
type ReceiverConfig struct {
	// Managed indicates whether the bridge starts and supervises slsReceiver.
	// If false, the receiver is expected to run externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the slsReceiver executable.
	Binary string `yaml:"binary"`

	// Host is checked by the health probe. Default: "127.0.0.1".
	Host string `yaml:"host"`

	// TCPPort is passed as --rx_tcpport and probed by health checks.
	TCPPort int `yaml:"tcp_port"`

	// ExtraArgs are appended to the command line.
	ExtraArgs []string `yaml:"extra_args"`

	RestartOnFailure    bool          `yaml:"restart_on_failure"`
	RestartDelay        time.Duration `yaml:"restart_delay"`
	MaxRestartAttempts  int           `yaml:"max_restart_attempts"`
	GracefulTimeout     time.Duration `yaml:"graceful_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long parameter history rows are kept.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
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

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. AccessTokenTTL is in minutes.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Path returns the config file path from SLSDET_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("SLSDET_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SLSDET_SECTION_KEY
// For example: SLSDET_DETECTOR_HOSTNAME, SLSDET_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "lab-001",
			Name: "SLS detector bridge",
		},
		Detector: DetectorConfig{
			PortName:       "SLS1",
			Backend:        BackendSimulator,
			Timeout:        time.Second,
			ConnectTimeout: 500 * time.Millisecond,
			PollInterval:   250 * time.Millisecond,
			ExitWait:       2 * time.Second,
		},
		Bridge: BridgeConfig{
			ID:             "slsdet-bridge-01",
			PollInterval:   2 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		Receiver: ReceiverConfig{
			Binary:              "/usr/bin/slsReceiver",
			Host:                "127.0.0.1",
			TCPPort:             1954,
			RestartOnFailure:    true,
			RestartDelay:        5 * time.Second,
			MaxRestartAttempts:  10,
			GracefulTimeout:     10 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:             "./data/slsdet.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "slsdet-bridge",
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
			Path:           "/api/v1/ws",
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
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Detector
	if v := os.Getenv("SLSDET_DETECTOR_HOSTNAME"); v != "" {
		cfg.Detector.Hostname = v
	}
	if v := os.Getenv("SLSDET_DETECTOR_PORT_NAME"); v != "" {
		cfg.Detector.PortName = v
	}
	if v := os.Getenv("SLSDET_DETECTOR_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Detector.ID = id
		}
	}

	if v := os.Getenv("SLSDET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SLSDET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SLSDET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SLSDET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SLSDET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SLSDET_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("SLSDET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SLSDET_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Detector
	if c.Detector.PortName == "" {
		errs = append(errs, "detector.port_name is required")
	}
	if strings.Trim(c.Detector.Hostname, "+") == "" {
		errs = append(errs, "detector.hostname is required (set SLSDET_DETECTOR_HOSTNAME)")
	}
	if c.Detector.ID < 0 {
		errs = append(errs, "detector.id must not be negative")
	}
	if c.Detector.Backend != BackendSimulator {
		errs = append(errs, fmt.Sprintf("detector.backend %q is not supported", c.Detector.Backend))
	}
	if c.Detector.Timeout <= 0 || c.Detector.ConnectTimeout <= 0 || c.Detector.PollInterval <= 0 {
		errs = append(errs, "detector timeouts and poll_interval must be positive")
	}

	if c.Bridge.PollInterval <= 0 {
		errs = append(errs, "bridge.poll_interval must be positive")
	}

	if c.Receiver.Managed {
		if c.Receiver.Binary == "" {
			errs = append(errs, "receiver.binary is required when receiver.managed is true")
		}
		if c.Receiver.TCPPort < 1 || c.Receiver.TCPPort > 65535 {
			errs = append(errs, "receiver.tcp_port must be between 1 and 65535")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Mutating routes switch detector hardware; tokens must not be forgeable.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set SLSDET_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// GetTokenTTL returns the access token lifetime.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// SimulatorHosts returns the hosts the simulator should answer for.
func (c *Config) SimulatorHosts() []string {
	if len(c.Detector.Simulator.Hosts) > 0 {
		return c.Detector.Simulator.Hosts
	}
	var hosts []string
	for _, h := range strings.Split(c.Detector.Hostname, "+") {
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
