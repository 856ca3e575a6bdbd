package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for BACmon Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	BACnet    BACnetConfig    `yaml:"bacnet"`
	Collector CollectorConfig `yaml:"collector"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APITimeoutConfig contains HTTP timeout settings.
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

// BACnetConfig contains BACnet gateway connection settings.
//
// The core does not speak BACnet/IP directly; it talks to a gateway
// service that proxies Who-Is broadcasts and ReadProperty requests.
type BACnetConfig struct {
	// GatewayURL is the base URL of the BACnet gateway service.
	GatewayURL string `yaml:"gateway_url"`

	// SelfDeviceID is the gateway's own device instance number.
	// Discovery excludes this ID so the core never catalogues itself.
	SelfDeviceID int `yaml:"self_device_id"`

	// DiscoveryTimeout is how long a Who-Is broadcast waits for I-Am replies.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`

	// RequestTimeout bounds individual ReadProperty round trips.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CollectorConfig contains reading collection settings.
type CollectorConfig struct {
	// BatchSize is the maximum number of points read per gateway batch request.
	BatchSize int `yaml:"batch_size"`

	// Interval is the period of the scheduled collection cycle.
	Interval time.Duration `yaml:"interval"`

	// BatchTimeout bounds a single batch read round trip.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// MaxRetries is the number of re-attempts for a failed point read.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the delay between point read retries.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Concurrency caps the number of devices collected in parallel.
	Concurrency int `yaml:"concurrency"`

	// StaleAfter is how long a device may go without a successful reading
	// before it is demoted to offline.
	StaleAfter time.Duration `yaml:"stale_after"`

	// DiscoveryInterval is the period of the scheduled discovery sweep.
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// AnomalyConfig contains anomaly detection tuning.
type AnomalyConfig struct {
	// ZScoreThreshold flags a reading whose |z| exceeds this value.
	ZScoreThreshold float64 `yaml:"zscore_threshold"`

	// IQRMultiplier widens the interquartile fences (Tukey's rule).
	IQRMultiplier float64 `yaml:"iqr_multiplier"`

	// Lookback is the baseline window of historical readings per point.
	Lookback time.Duration `yaml:"lookback"`

	// MinSamples is the minimum baseline size for any statistical scoring.
	MinSamples int `yaml:"min_samples"`

	// MinEnsembleSamples is the minimum baseline size for the full
	// multi-method ensemble; below it a two-method fallback applies.
	MinEnsembleSamples int `yaml:"min_ensemble_samples"`

	// Weights blend the per-method scores into the ensemble score.
	Weights AnomalyWeights `yaml:"weights"`

	// DecisionThreshold is the ensemble score above which a reading
	// is declared anomalous.
	DecisionThreshold float64 `yaml:"decision_threshold"`
}

// AnomalyWeights are the ensemble blend weights. They should sum to 1.
type AnomalyWeights struct {
	ZScore   float64 `yaml:"zscore"`
	IQR      float64 `yaml:"iqr"`
	MultiDim float64 `yaml:"multidim"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BACMON_SECTION_KEY
// For example: BACMON_DATABASE_PATH, BACMON_BACNET_GATEWAY_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "BACmon",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/bacmon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bacmon-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		BACnet: BACnetConfig{
			GatewayURL:       "http://localhost:5001",
			SelfDeviceID:     599,
			DiscoveryTimeout: 10 * time.Second,
			RequestTimeout:   5 * time.Second,
		},
		Collector: CollectorConfig{
			BatchSize:         50,
			Interval:          5 * time.Minute,
			BatchTimeout:      30 * time.Second,
			MaxRetries:        2,
			RetryBackoff:      500 * time.Millisecond,
			Concurrency:       4,
			StaleAfter:        time.Hour,
			DiscoveryInterval: time.Hour,
		},
		Anomaly: AnomalyConfig{
			ZScoreThreshold:    2.5,
			IQRMultiplier:      1.5,
			Lookback:           24 * time.Hour,
			MinSamples:         5,
			MinEnsembleSamples: 20,
			Weights: AnomalyWeights{
				ZScore:   0.4,
				IQR:      0.3,
				MultiDim: 0.3,
			},
			DecisionThreshold: 0.5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BACMON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BACMON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BACMON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BACMON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BACMON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BACMON_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BACMON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// BACnet gateway
	if v := os.Getenv("BACMON_BACNET_GATEWAY_URL"); v != "" {
		cfg.BACnet.GatewayURL = v
	}
	if v := os.Getenv("BACMON_BACNET_SELF_DEVICE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.BACnet.SelfDeviceID = id
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// BACnet validation
	if c.BACnet.GatewayURL == "" {
		errs = append(errs, "bacnet.gateway_url is required")
	}
	if c.BACnet.SelfDeviceID < 0 {
		errs = append(errs, "bacnet.self_device_id must be non-negative")
	}

	// Collector validation
	if c.Collector.BatchSize < 1 {
		errs = append(errs, "collector.batch_size must be at least 1")
	}
	if c.Collector.Concurrency < 1 {
		errs = append(errs, "collector.concurrency must be at least 1")
	}
	if c.Collector.Interval <= 0 {
		errs = append(errs, "collector.interval must be positive")
	}
	if c.Collector.DiscoveryInterval <= 0 {
		errs = append(errs, "collector.discovery_interval must be positive")
	}

	// Anomaly validation
	if c.Anomaly.ZScoreThreshold <= 0 {
		errs = append(errs, "anomaly.zscore_threshold must be positive")
	}
	if c.Anomaly.IQRMultiplier <= 0 {
		errs = append(errs, "anomaly.iqr_multiplier must be positive")
	}
	if c.Anomaly.MinSamples < 2 {
		errs = append(errs, "anomaly.min_samples must be at least 2")
	}
	if c.Anomaly.MinEnsembleSamples < c.Anomaly.MinSamples {
		errs = append(errs, "anomaly.min_ensemble_samples must be >= anomaly.min_samples")
	}
	if sum := c.Anomaly.Weights.ZScore + c.Anomaly.Weights.IQR + c.Anomaly.Weights.MultiDim; sum < 0.999 || sum > 1.001 {
		errs = append(errs, "anomaly.weights must sum to 1.0")
	}
	if c.Anomaly.DecisionThreshold <= 0 || c.Anomaly.DecisionThreshold >= 1 {
		errs = append(errs, "anomaly.decision_threshold must be between 0 and 1")
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
