// Package config loads the service configuration from yaml with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support yaml unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// DatabaseConfig carries the ledger endpoints. Password comes from the
// environment, never the file.
type DatabaseConfig struct {
	WriterEndpoint string `yaml:"writer"`
	ReaderEndpoint string `yaml:"reader"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"-"`
	SQLitePath     string `yaml:"sqlite_path"`
}

// GatewayConfig configures one chain adapter.
type GatewayConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ChainID          int64  `yaml:"chain_id"`
	MinConfirmations int64  `yaml:"min_confirmations"`
}

// ARIOConfig configures the AO compute unit integration.
type ARIOConfig struct {
	ProcessID              string `yaml:"process_id"`
	CUURL                  string `yaml:"cu_url"`
	LeaseNameDustAmount    int64  `yaml:"lease_name_dust_amount"`
	PermaBuyNameDustAmount int64  `yaml:"perma_buy_name_dust_amount"`
}

// PollingConfig bounds the gateway retry harness.
type PollingConfig struct {
	WaitTime    Duration `yaml:"wait_time"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// PipelineConfig drives the crypto credit worker.
type PipelineConfig struct {
	Interval     Duration            `yaml:"interval"`
	BatchSize    int                 `yaml:"batch_size"`
	MinSettleAge map[string]Duration `yaml:"min_settle_age"`
	MaxLifetime  Duration            `yaml:"max_lifetime"`
	SinkAddress  map[string]string   `yaml:"sink_address"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddress   string                   `yaml:"listen"`
	Environment     string                   `yaml:"env"`
	LogFile         string                   `yaml:"log_file"`
	Database        DatabaseConfig           `yaml:"database"`
	Gateways        map[string]GatewayConfig `yaml:"gateways"`
	ARIO            ARIOConfig               `yaml:"ario"`
	Polling         PollingConfig            `yaml:"polling"`
	Pipeline        PipelineConfig           `yaml:"pipeline"`
	SweeperInterval Duration                 `yaml:"sweeper_interval"`
	JWTSecret       string                   `yaml:"-"`
	OTLPEndpoint    string                   `yaml:"otlp_endpoint"`
}

// Defaults mirrored from the production posture.
const (
	DefaultMinConfirmations        = 5
	DefaultArweaveMinConfirmations = 18
	DefaultPollWait                = 500 * time.Millisecond
	DefaultPollAttempts            = 5
	DefaultSweeperInterval         = time.Minute
	DefaultPipelineInterval        = time.Minute
	DefaultLeaseNameDust           = 1
	DefaultPermaBuyNameDust        = 5
)

// Load reads the yaml file, applies environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_WRITER_ENDPOINT"); v != "" {
		c.Database.WriterEndpoint = v
	}
	if v := os.Getenv("DB_READER_ENDPOINT"); v != "" {
		c.Database.ReaderEndpoint = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	c.Database.Password = os.Getenv("DB_PASSWORD")
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("ARIO_PROCESS_ID"); v != "" {
		c.ARIO.ProcessID = v
	}
	if v := os.Getenv("CU_URL"); v != "" {
		c.ARIO.CUURL = v
	}
	if v := os.Getenv("PAYMENT_TX_POLLING_WAIT_TIME_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Polling.WaitTime.Duration = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_PAYMENT_TX_POLLING_ATTEMPTS"); v != "" {
		if attempts, err := strconv.Atoi(v); err == nil && attempts > 0 {
			c.Polling.MaxAttempts = attempts
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":8080"
	}
	if c.Polling.WaitTime.Duration <= 0 {
		c.Polling.WaitTime.Duration = DefaultPollWait
	}
	if c.Polling.MaxAttempts <= 0 {
		c.Polling.MaxAttempts = DefaultPollAttempts
	}
	if c.SweeperInterval.Duration <= 0 {
		c.SweeperInterval.Duration = DefaultSweeperInterval
	}
	if c.Pipeline.Interval.Duration <= 0 {
		c.Pipeline.Interval.Duration = DefaultPipelineInterval
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.MaxLifetime.Duration <= 0 {
		c.Pipeline.MaxLifetime.Duration = 24 * time.Hour
	}
	if c.ARIO.LeaseNameDustAmount <= 0 {
		c.ARIO.LeaseNameDustAmount = DefaultLeaseNameDust
	}
	if c.ARIO.PermaBuyNameDustAmount <= 0 {
		c.ARIO.PermaBuyNameDustAmount = DefaultPermaBuyNameDust
	}
	for name, gw := range c.Gateways {
		if gw.MinConfirmations <= 0 {
			if name == "arweave" {
				gw.MinConfirmations = DefaultArweaveMinConfirmations
			} else {
				gw.MinConfirmations = DefaultMinConfirmations
			}
			c.Gateways[name] = gw
		}
	}
}

func (c *Config) validate() error {
	hasPostgres := strings.TrimSpace(c.Database.WriterEndpoint) != "" || strings.TrimSpace(c.Database.Host) != ""
	hasSQLite := strings.TrimSpace(c.Database.SQLitePath) != ""
	if !hasPostgres && !hasSQLite {
		return fmt.Errorf("database writer endpoint or sqlite path required")
	}
	return nil
}

// WriterDSN assembles the postgres writer DSN.
func (c *Config) WriterDSN() string {
	return c.dsn(c.Database.WriterEndpoint)
}

// ReaderDSN assembles the postgres reader DSN, empty when unset.
func (c *Config) ReaderDSN() string {
	if strings.TrimSpace(c.Database.ReaderEndpoint) == "" {
		return ""
	}
	return c.dsn(c.Database.ReaderEndpoint)
}

func (c *Config) dsn(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	if host == "" {
		host = strings.TrimSpace(c.Database.Host)
	}
	if host == "" {
		return ""
	}
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	name := c.Database.Name
	if name == "" {
		name = "credit"
	}
	user := c.Database.User
	if user == "" {
		user = "postgres"
	}
	parts := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"dbname=" + name,
		"user=" + user,
	}
	if c.Database.Password != "" {
		parts = append(parts, "password="+c.Database.Password)
	}
	return strings.Join(parts, " ")
}
