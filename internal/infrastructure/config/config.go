package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Cybro bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site          SiteConfig          `yaml:"site"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Cybro         CybroConfig         `yaml:"cybro"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Security      SecurityConfig      `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays is how long entity state history is kept.
	// Default: 30
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
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

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// CybroConfig describes the PLC and the SCGI server that fronts it.
type CybroConfig struct {
	// Host is the address of the Cybro SCGI server.
	Host string `yaml:"host"`

	// Port is the HTTP port of the SCGI server.
	// Default: 4000
	Port int `yaml:"port"`

	// Address is the network address (NAD) of the PLC.
	// Variables are named "c{address}.{name}", e.g. "c1000.scan_time".
	Address int `yaml:"address"`

	// ScanInterval is how often to poll the SCGI server (seconds).
	// Default: 10
	ScanInterval int `yaml:"scan_interval"`

	// Timeout bounds a single HTTP request to the SCGI server (seconds).
	// Default: 5
	Timeout int `yaml:"timeout"`

	// Weather enables the weather station variables (c{address}.weather_*).
	Weather bool `yaml:"weather"`

	// ExtraBinarySensors lists fully qualified variable names to expose as
	// plain binary sensors on the PLC device.
	ExtraBinarySensors []string `yaml:"extra_binary_sensors"`
}

// HomeAssistantConfig controls MQTT discovery publication and bridge health.
type HomeAssistantConfig struct {
	DiscoveryEnabled bool   `yaml:"discovery_enabled"`
	DiscoveryPrefix  string `yaml:"discovery_prefix"`

	// HealthInterval is how often to publish bridge health (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_CYBRO_HOST, GRAYLOGIC_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:                 "./data/cybro.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-cybro",
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
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cybro: CybroConfig{
			Host:         "localhost",
			Port:         4000,
			ScanInterval: 10,
			Timeout:      5,
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryEnabled: true,
			DiscoveryPrefix:  "homeassistant",
			HealthInterval:   30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Cybro
	if v := os.Getenv("GRAYLOGIC_CYBRO_HOST"); v != "" {
		cfg.Cybro.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_CYBRO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Cybro.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_CYBRO_ADDRESS"); v != "" {
		if nad, err := strconv.Atoi(v); err == nil {
			cfg.Cybro.Address = nad
		}
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Cybro validation
	if c.Cybro.Host == "" {
		errs = append(errs, "cybro.host is required")
	}
	if c.Cybro.Port < 1 || c.Cybro.Port > 65535 {
		errs = append(errs, "cybro.port must be between 1 and 65535")
	}
	if c.Cybro.Address <= 0 {
		errs = append(errs, "cybro.address must be a positive PLC network address")
	}
	if c.Cybro.ScanInterval < 1 {
		errs = append(errs, "cybro.scan_interval must be at least 1 second")
	}
	for _, name := range c.Cybro.ExtraBinarySensors {
		if !strings.HasPrefix(name, fmt.Sprintf("c%d.", c.Cybro.Address)) {
			errs = append(errs, fmt.Sprintf("cybro.extra_binary_sensors: %q is not a variable of c%d", name, c.Cybro.Address))
		}
	}

	if c.HomeAssistant.DiscoveryEnabled && c.HomeAssistant.DiscoveryPrefix == "" {
		errs = append(errs, "homeassistant.discovery_prefix is required when discovery is enabled")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanInterval returns the PLC polling interval as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.Cybro.ScanInterval) * time.Second
}

// GetCybroTimeout returns the SCGI request timeout as a Duration.
func (c *Config) GetCybroTimeout() time.Duration {
	return time.Duration(c.Cybro.Timeout) * time.Second
}

// GetHistoryRetention returns how long entity state history is kept.
// Zero disables purging.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
}

// GetHealthInterval returns the bridge health publication interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.HomeAssistant.HealthInterval) * time.Second
}
