package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// validConfig returns defaults plus the fields that have no default.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Detector.Hostname = "jf1+jf2"
	cfg.Security.JWT.Secret = testSecret
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "xbl-01"
detector:
  port_name: "JF"
  hostname: "det-a+det-b"
  id: 3
  timeout: 2s
  connect_timeout: 750ms
  simulator:
    hosts: ["det-a"]
    latency: 5ms
bridge:
  poll_interval: 500ms
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "xbl-01" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "xbl-01")
	}
	if cfg.Detector.PortName != "JF" || cfg.Detector.Hostname != "det-a+det-b" || cfg.Detector.ID != 3 {
		t.Errorf("Detector = %+v", cfg.Detector)
	}
	if cfg.Detector.Timeout != 2*time.Second {
		t.Errorf("Detector.Timeout = %v, want 2s", cfg.Detector.Timeout)
	}
	if cfg.Detector.ConnectTimeout != 750*time.Millisecond {
		t.Errorf("Detector.ConnectTimeout = %v, want 750ms", cfg.Detector.ConnectTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Detector.PollInterval != 250*time.Millisecond {
		t.Errorf("Detector.PollInterval = %v, want 250ms", cfg.Detector.PollInterval)
	}
	if cfg.Detector.Simulator.Latency != 5*time.Millisecond {
		t.Errorf("Simulator.Latency = %v, want 5ms", cfg.Detector.Simulator.Latency)
	}
	if cfg.Bridge.PollInterval != 500*time.Millisecond {
		t.Errorf("Bridge.PollInterval = %v, want 500ms", cfg.Bridge.PollInterval)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if got := cfg.SimulatorHosts(); len(got) != 1 || got[0] != "det-a" {
		t.Errorf("SimulatorHosts() = %v, want [det-a]", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every problem is reported, not just the first.
	for _, want := range []string{"site.id", "detector.hostname", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing port name", mutate: func(c *Config) { c.Detector.PortName = "" }, wantErr: "detector.port_name"},
		{name: "only separators", mutate: func(c *Config) { c.Detector.Hostname = "++" }, wantErr: "detector.hostname"},
		{name: "negative id", mutate: func(c *Config) { c.Detector.ID = -1 }, wantErr: "detector.id"},
		{name: "unknown backend", mutate: func(c *Config) { c.Detector.Backend = "slsdetector" }, wantErr: "detector.backend"},
		{name: "zero timeout", mutate: func(c *Config) { c.Detector.Timeout = 0 }, wantErr: "poll_interval must be positive"},
		{name: "zero bridge poll", mutate: func(c *Config) { c.Bridge.PollInterval = 0 }, wantErr: "bridge.poll_interval"},
		{
			name:    "managed receiver without binary",
			mutate:  func(c *Config) { c.Receiver.Managed = true; c.Receiver.Binary = "" },
			wantErr: "receiver.binary",
		},
		{
			name:    "managed receiver bad port",
			mutate:  func(c *Config) { c.Receiver.Managed = true; c.Receiver.TCPPort = 0 },
			wantErr: "receiver.tcp_port",
		},
		{name: "unmanaged receiver ignores port", mutate: func(c *Config) { c.Receiver.TCPPort = 0 }},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: "security.jwt.secret"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: "at least 32"},
		{
			name:   "API disabled needs no secret",
			mutate: func(c *Config) { c.API.Enabled = false; c.Security.JWT.Secret = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 15}},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetTokenTTL(); got != 15*time.Minute {
		t.Errorf("GetTokenTTL() = %v, want 15m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SLSDET_DETECTOR_HOSTNAME", "jf-a+jf-b")
	t.Setenv("SLSDET_DETECTOR_PORT_NAME", "JF9")
	t.Setenv("SLSDET_DETECTOR_ID", "7")
	t.Setenv("SLSDET_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SLSDET_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SLSDET_MQTT_USERNAME", "testuser")
	t.Setenv("SLSDET_MQTT_PASSWORD", "testpass")
	t.Setenv("SLSDET_API_HOST", "192.168.1.1")
	t.Setenv("SLSDET_API_PORT", "9000")
	t.Setenv("SLSDET_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SLSDET_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name      string
		got, want any
	}{
		{"Detector.Hostname", cfg.Detector.Hostname, "jf-a+jf-b"},
		{"Detector.PortName", cfg.Detector.PortName, "JF9"},
		{"Detector.ID", cfg.Detector.ID, 7},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9000},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadNumberIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SLSDET_API_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default 8090", cfg.API.Port)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("SLSDET_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("SLSDET_CONFIG", "/etc/slsdet.yaml")
	if got := Path(); got != "/etc/slsdet.yaml" {
		t.Errorf("Path() = %q, want /etc/slsdet.yaml", got)
	}
}

func TestSimulatorHosts_FromHostname(t *testing.T) {
	cfg := validConfig()
	cfg.Detector.Hostname = "jf1++jf2+"
	got := cfg.SimulatorHosts()
	if len(got) != 2 || got[0] != "jf1" || got[1] != "jf2" {
		t.Errorf("SimulatorHosts() = %v, want [jf1 jf2]", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Detector.Backend != BackendSimulator {
		t.Errorf("Detector.Backend = %q, want %q", cfg.Detector.Backend, BackendSimulator)
	}
	if cfg.Detector.Timeout != time.Second || cfg.Detector.ConnectTimeout != 500*time.Millisecond {
		t.Errorf("detector timeouts = %v/%v, want 1s/500ms", cfg.Detector.Timeout, cfg.Detector.ConnectTimeout)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Receiver.TCPPort != 1954 {
		t.Errorf("defaultConfig Receiver.TCPPort = %d, want 1954", cfg.Receiver.TCPPort)
	}
}
