package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for an NMOS node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node         NodeConfig         `yaml:"node"`
	Registry     RegistryConfig     `yaml:"registry"`
	Registration RegistrationConfig `yaml:"registration"`
	Connection   ConnectionConfig   `yaml:"connection"`
	Routing      RoutingConfig      `yaml:"routing"`
	Events       EventsConfig       `yaml:"events"`
	Time         TimeConfig         `yaml:"time"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// NodeConfig describes the node, its single device and the senders and
// receivers it exposes.
type NodeConfig struct {
	// Seed makes resource IDs stable across restarts. Empty means random IDs.
	Seed        string `yaml:"seed"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	Hostname    string `yaml:"hostname"`

	// Href is the externally reachable base URL. Defaults to
	// http://{hostname}:{api.port}/.
	Href string `yaml:"href"`

	Interface   string `yaml:"interface"`
	InterfaceIP string `yaml:"interface_ip"`

	NodeAPIVersion       string `yaml:"node_api_version"`
	ConnectionAPIVersion string `yaml:"connection_api_version"`

	Senders   []SenderConfig   `yaml:"senders"`
	Receivers []ReceiverConfig `yaml:"receivers"`
}

// SenderConfig declares one sender with its source and flow.
type SenderConfig struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	Format      string `yaml:"format"`
	Transport   string `yaml:"transport"`
	MediaType   string `yaml:"media_type"`
	EventType   string `yaml:"event_type"`
	MulticastIP string `yaml:"multicast_ip"`
	Legs        int    `yaml:"legs"`
}

// ReceiverConfig declares one receiver.
type ReceiverConfig struct {
	Name       string   `yaml:"name"`
	Label      string   `yaml:"label"`
	Format     string   `yaml:"format"`
	Transport  string   `yaml:"transport"`
	MediaTypes []string `yaml:"media_types"`
	EventTypes []string `yaml:"event_types"`
	Legs       int      `yaml:"legs"`
}

// RegistryConfig locates the registration and query APIs.
type RegistryConfig struct {
	URL          string        `yaml:"url"`
	QueryURL     string        `yaml:"query_url"`
	APIVersion   string        `yaml:"api_version"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PageLimit    int           `yaml:"page_limit"`
	Auth         RegistryAuth  `yaml:"auth"`
}

// RegistryAuth selects how requests to the registry are authorised.
// Mode is one of "none", "bearer", "basic" or "jwt".
type RegistryAuth struct {
	Mode     string        `yaml:"mode"`
	Token    string        `yaml:"token"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// RegistrationConfig tunes the registrar.
type RegistrationConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PostDelay         time.Duration `yaml:"post_delay"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	UnregisterTimeout time.Duration `yaml:"unregister_timeout"`
}

// ConnectionConfig tunes the connection API.
type ConnectionConfig struct {
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	BrokerHost        string        `yaml:"broker_host"`
	ClientTimeout     time.Duration `yaml:"client_timeout"`
}

// RoutingConfig tunes the controller-side reconciler.
type RoutingConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ForwardManifest bool          `yaml:"forward_manifest"`
}

// EventsConfig configures the event bridge.
type EventsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Subscribe      []string      `yaml:"subscribe"`
	HistorySize    int           `yaml:"history_size"`
	StatusInterval time.Duration `yaml:"status_interval"`
	EventType      string        `yaml:"event_type"`

	// PublishRate caps grains per second accepted by the admin publish
	// endpoint, with bursts of PublishBurst. Zero disables the cap.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
}

// TimeConfig overrides protocol time constants.
type TimeConfig struct {
	LeapSeconds int64 `yaml:"leap_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// JWTConfig protects the admin API. An empty secret disables auth.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	Issuer         string `yaml:"issuer"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NMOS_SECTION_KEY
// For example: NMOS_REGISTRY_URL, NMOS_API_PORT
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Label:                "nmos-node",
			NodeAPIVersion:       "v1.3",
			ConnectionAPIVersion: "v1.1",
		},
		Registry: RegistryConfig{
			APIVersion:   "v1.3",
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 5 * time.Second,
			PageLimit:    1000,
			Auth:         RegistryAuth{Mode: "none", TTL: time.Hour},
		},
		Registration: RegistrationConfig{
			Enabled:           true,
			HeartbeatInterval: 5 * time.Second,
			PostDelay:         50 * time.Millisecond,
			RetryBackoff:      10 * time.Second,
			UnregisterTimeout: 3 * time.Second,
		},
		Connection: ConnectionConfig{
			SchedulerInterval: 100 * time.Millisecond,
			ClientTimeout:     5 * time.Second,
		},
		Routing: RoutingConfig{
			RefreshInterval: 10 * time.Second,
			MaxAttempts:     3,
			BaseDelay:       500 * time.Millisecond,
			MaxDelay:        5 * time.Second,
			ForwardManifest: true,
		},
		Events: EventsConfig{
			HistorySize:    100,
			StatusInterval: 30 * time.Second,
			EventType:      "boolean",
			PublishRate:    20,
			PublishBurst:   10,
		},
		Time: TimeConfig{
			LeapSeconds: 37,
		},
		Database: DatabaseConfig{
			Path:        "./data/nmos.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nmos-node",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NMOS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	strOverrides := map[string]*string{
		"NMOS_NODE_SEED":          &cfg.Node.Seed,
		"NMOS_NODE_LABEL":         &cfg.Node.Label,
		"NMOS_NODE_HOSTNAME":      &cfg.Node.Hostname,
		"NMOS_NODE_HREF":          &cfg.Node.Href,
		"NMOS_NODE_INTERFACE_IP":  &cfg.Node.InterfaceIP,
		"NMOS_REGISTRY_URL":       &cfg.Registry.URL,
		"NMOS_REGISTRY_QUERY_URL": &cfg.Registry.QueryURL,
		"NMOS_REGISTRY_TOKEN":     &cfg.Registry.Auth.Token,
		"NMOS_REGISTRY_SECRET":    &cfg.Registry.Auth.Secret,
		"NMOS_DATABASE_PATH":      &cfg.Database.Path,
		"NMOS_MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"NMOS_MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"NMOS_MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"NMOS_API_HOST":           &cfg.API.Host,
		"NMOS_INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"NMOS_JWT_SECRET":         &cfg.Security.JWT.Secret,
		"NMOS_LOG_LEVEL":          &cfg.Logging.Level,
	}
	for key, dst := range strOverrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	intOverrides := map[string]*int{
		"NMOS_API_PORT":  &cfg.API.Port,
		"NMOS_MQTT_PORT": &cfg.MQTT.Broker.Port,
	}
	for key, dst := range intOverrides {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("NMOS_LEAP_SECONDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing NMOS_LEAP_SECONDS: %w", err)
		}
		cfg.Time.LeapSeconds = n
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Label == "" {
		errs = append(errs, "node.label is required")
	}
	if c.Node.Href != "" {
		if u, err := url.Parse(c.Node.Href); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "node.href must be an absolute URL")
		}
	}
	if !isVersion(c.Node.NodeAPIVersion) {
		errs = append(errs, "node.node_api_version must look like v1.3")
	}
	if !isVersion(c.Node.ConnectionAPIVersion) {
		errs = append(errs, "node.connection_api_version must look like v1.1")
	}
	names := make(map[string]bool)
	for i, s := range c.Node.Senders {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("node.senders[%d].name is required", i))
		} else if names[s.Name] {
			errs = append(errs, fmt.Sprintf("node.senders[%d].name %q is duplicated", i, s.Name))
		}
		names[s.Name] = true
		if s.Legs < 0 || s.Legs > 2 {
			errs = append(errs, fmt.Sprintf("node.senders[%d].legs must be 1 or 2", i))
		}
	}
	for i, r := range c.Node.Receivers {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("node.receivers[%d].name is required", i))
		} else if names[r.Name] {
			errs = append(errs, fmt.Sprintf("node.receivers[%d].name %q is duplicated", i, r.Name))
		}
		names[r.Name] = true
		if r.Legs < 0 || r.Legs > 2 {
			errs = append(errs, fmt.Sprintf("node.receivers[%d].legs must be 1 or 2", i))
		}
	}

	if c.Registration.Enabled || c.Routing.Enabled {
		if c.Registry.URL == "" {
			errs = append(errs, "registry.url is required when registration or routing is enabled")
		} else if u, err := url.Parse(c.Registry.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "registry.url must be an absolute URL")
		}
	}
	switch c.Registry.Auth.Mode {
	case "", "none":
	case "bearer":
		if c.Registry.Auth.Token == "" {
			errs = append(errs, "registry.auth.token is required for bearer auth")
		}
	case "basic":
		if c.Registry.Auth.Username == "" {
			errs = append(errs, "registry.auth.username is required for basic auth")
		}
	case "jwt":
		if c.Registry.Auth.Secret == "" {
			errs = append(errs, "registry.auth.secret is required for jwt auth")
		}
	default:
		errs = append(errs, "registry.auth.mode must be none, bearer, basic or jwt")
	}
	if c.Registration.HeartbeatInterval <= 0 {
		errs = append(errs, "registration.heartbeat_interval must be positive")
	}
	if c.Routing.MaxAttempts < 1 {
		errs = append(errs, "routing.max_attempts must be at least 1")
	}

	if c.Time.LeapSeconds < 0 {
		errs = append(errs, "time.leap_seconds must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Events.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "events.enabled requires mqtt.enabled")
	}
	if c.Events.PublishRate < 0 || c.Events.PublishBurst < 0 {
		errs = append(errs, "events.publish_rate and events.publish_burst must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isVersion(v string) bool {
	major, minor, ok := strings.Cut(strings.TrimPrefix(v, "v"), ".")
	if !ok || !strings.HasPrefix(v, "v") {
		return false
	}
	_, errMajor := strconv.Atoi(major)
	_, errMinor := strconv.Atoi(minor)
	return errMajor == nil && errMinor == nil
}

// NodeHref returns the configured base URL, or one derived from the hostname
// and API port.
func (c *Config) NodeHref() string {
	if c.Node.Href != "" {
		return c.Node.Href
	}
	host := c.Node.Hostname
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/", host, c.API.Port)
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
