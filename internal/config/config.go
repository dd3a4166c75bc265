package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Edge Gateway Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Sources      []SourceConfig     `yaml:"sources"`
	Zerobus      ZerobusConfig      `yaml:"zerobus"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Admin        AdminConfig        `yaml:"admin"`
	FleetMirror  FleetMirrorConfig  `yaml:"fleet_mirror"`
}

type ServerConfig struct {
	Env             string `yaml:"env"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// SourceConfig describes one protocol source (spec §3 Source Descriptor).
type SourceConfig struct {
	Name     string                 `yaml:"name"`
	Protocol string                 `yaml:"protocol"` // opcua | mqtt | modbus
	Endpoint string                 `yaml:"endpoint"`
	Enabled  bool                   `yaml:"enabled"`
	Options  map[string]interface{} `yaml:"options"`
}

// ZerobusConfig configures the sink stream (spec §4.4, §6).
type ZerobusConfig struct {
	Enabled         bool         `yaml:"enabled"`
	WorkspaceHost   string       `yaml:"workspace_host"`
	ZerobusEndpoint string       `yaml:"zerobus_endpoint"`
	Auth            AuthConfig   `yaml:"auth"`
	Target          TargetConfig `yaml:"target"`
	Batch           BatchConfig  `yaml:"batch"`
	Stream          StreamConfig `yaml:"stream"`
}

type AuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type TargetConfig struct {
	Catalog string `yaml:"catalog"`
	Schema  string `yaml:"schema"`
	Table   string `yaml:"table"`
}

// TableName returns the three-part identifier the sink expects in the
// x-databricks-zerobus-table-name header (spec §4.4).
func (t TargetConfig) TableName() string {
	return fmt.Sprintf("%s.%s.%s", t.Catalog, t.Schema, t.Table)
}

type BatchConfig struct {
	MaxRecords     int `yaml:"max_records"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type StreamConfig struct {
	MaxInflightRecords       int    `yaml:"max_inflight_records"`
	FlushTimeoutMs           int    `yaml:"flush_timeout_ms"`
	ServerLackOfAckTimeoutMs int    `yaml:"server_lack_of_ack_timeout_ms"`
	Recovery                 bool   `yaml:"recovery"`
	RecordType               string `yaml:"record_type"` // JSON | PROTOBUF
}

// BackpressureConfig configures the tiered buffer (spec §4.1, §6).
type BackpressureConfig struct {
	MemoryQueue MemoryQueueConfig `yaml:"memory_queue"`
	DiskSpool   DiskSpoolConfig   `yaml:"disk_spool"`
}

type MemoryQueueConfig struct {
	MaxSize    int    `yaml:"max_size"`
	DropPolicy string `yaml:"drop_policy"` // drop_newest | drop_oldest | reject
}

type DiskSpoolConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	Encryption bool   `yaml:"encryption"`
	KeyPath    string `yaml:"key_path"`
}

// AdminConfig configures the read-only status/metrics surface (spec §4.8).
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// FleetMirrorConfig configures optional publication of this gateway's
// status snapshot to a shared Redis channel/key so a fleet of gateways
// can be observed from one place (SPEC_FULL.md fleet observability).
// RedisAddr empty (the default) disables mirroring entirely.
type FleetMirrorConfig struct {
	RedisAddr       string `yaml:"redis_addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	GatewayID       string `yaml:"gateway_id"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance, loaded from CONFIG_PATH
// (default config.yaml) with environment overrides applied.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file without resolving
// ${env:...}/${credential:...} references — ResolveReferences does that
// once a credential resolver is available.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// CredentialResolver resolves a ${credential:key} reference to its
// plaintext value. Implementations typically wrap a credstore.Store.
type CredentialResolver func(key string) (string, error)

var refPattern = regexp.MustCompile(`\$\{(env|credential):([^}]+)\}`)

// ResolveReferences substitutes ${env:NAME} / ${credential:key}
// references (spec §6) across the fields that carry secrets or
// environment-dependent endpoints.
func (c *Config) ResolveReferences(resolveCredential CredentialResolver) error {
	var resolveErr error
	resolve := func(s string) string {
		return refPattern.ReplaceAllStringFunc(s, func(m string) string {
			if resolveErr != nil {
				return m
			}
			parts := refPattern.FindStringSubmatch(m)
			kind, key := parts[1], parts[2]
			switch kind {
			case "env":
				return os.Getenv(key)
			case "credential":
				if resolveCredential == nil {
					resolveErr = fmt.Errorf("credential reference %q but no credential resolver configured", key)
					return m
				}
				v, err := resolveCredential(key)
				if err != nil {
					resolveErr = fmt.Errorf("resolve credential %q: %w", key, err)
					return m
				}
				return v
			default:
				return m
			}
		})
	}

	c.Zerobus.Auth.ClientID = resolve(c.Zerobus.Auth.ClientID)
	c.Zerobus.Auth.ClientSecret = resolve(c.Zerobus.Auth.ClientSecret)
	c.Zerobus.Auth.TokenURL = resolve(c.Zerobus.Auth.TokenURL)
	c.Zerobus.WorkspaceHost = resolve(c.Zerobus.WorkspaceHost)
	c.Zerobus.ZerobusEndpoint = resolve(c.Zerobus.ZerobusEndpoint)
	for i := range c.Sources {
		c.Sources[i].Endpoint = resolve(c.Sources[i].Endpoint)
	}
	return resolveErr
}

// applyEnvOverrides applies environment variable overrides, following
// the same precedence rule as the rest of this package: env wins over
// file, file wins over default.
func (c *Config) applyEnvOverrides() {
	c.Server.Env = getEnv("OTGW_ENV", c.Server.Env)
	if v := getEnvInt("OTGW_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.Zerobus.WorkspaceHost = getEnv("OTGW_WORKSPACE_HOST", c.Zerobus.WorkspaceHost)
	c.Zerobus.ZerobusEndpoint = getEnv("OTGW_ZEROBUS_ENDPOINT", c.Zerobus.ZerobusEndpoint)
	c.Zerobus.Auth.ClientID = getEnv("OTGW_CLIENT_ID", c.Zerobus.Auth.ClientID)
	c.Zerobus.Auth.ClientSecret = getEnv("OTGW_CLIENT_SECRET", c.Zerobus.Auth.ClientSecret)
	c.Zerobus.Auth.TokenURL = getEnv("OTGW_TOKEN_URL", c.Zerobus.Auth.TokenURL)

	if v := getEnvInt("OTGW_BATCH_MAX_RECORDS", 0); v > 0 {
		c.Zerobus.Batch.MaxRecords = v
	}
	if v := getEnvInt("OTGW_BATCH_TIMEOUT_SEC", 0); v > 0 {
		c.Zerobus.Batch.TimeoutSeconds = v
	}

	if v := getEnvInt("OTGW_MEMORY_QUEUE_MAX_SIZE", 0); v > 0 {
		c.Backpressure.MemoryQueue.MaxSize = v
	}
	c.Backpressure.MemoryQueue.DropPolicy = getEnv("OTGW_DROP_POLICY", c.Backpressure.MemoryQueue.DropPolicy)
	c.Backpressure.DiskSpool.Path = getEnv("OTGW_SPOOL_PATH", c.Backpressure.DiskSpool.Path)
	c.Backpressure.DiskSpool.KeyPath = getEnv("OTGW_SPOOL_KEY_PATH", c.Backpressure.DiskSpool.KeyPath)
	c.Backpressure.DiskSpool.Encryption = getEnvBool("OTGW_SPOOL_ENCRYPTION", c.Backpressure.DiskSpool.Encryption)

	c.Admin.ListenAddr = getEnv("OTGW_ADMIN_LISTEN_ADDR", c.Admin.ListenAddr)

	c.FleetMirror.RedisAddr = getEnv("OTGW_FLEET_MIRROR_REDIS_ADDR", c.FleetMirror.RedisAddr)
	c.FleetMirror.Password = getEnv("OTGW_FLEET_MIRROR_REDIS_PASSWORD", c.FleetMirror.Password)
	c.FleetMirror.GatewayID = getEnv("OTGW_FLEET_MIRROR_GATEWAY_ID", c.FleetMirror.GatewayID)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Backpressure.MemoryQueue.MaxSize == 0 {
		c.Backpressure.MemoryQueue.MaxSize = 10_000
	}
	if c.Backpressure.MemoryQueue.DropPolicy == "" {
		c.Backpressure.MemoryQueue.DropPolicy = "drop_newest"
	}
	if c.Backpressure.DiskSpool.Path == "" {
		c.Backpressure.DiskSpool.Path = "./spool"
	}
	if c.Backpressure.DiskSpool.MaxSizeMB == 0 {
		c.Backpressure.DiskSpool.MaxSizeMB = 512
	}
	if c.Backpressure.DiskSpool.KeyPath == "" {
		c.Backpressure.DiskSpool.KeyPath = "./spool/spool.key"
	}
	if c.Zerobus.Batch.MaxRecords == 0 {
		c.Zerobus.Batch.MaxRecords = 500
	}
	if c.Zerobus.Batch.TimeoutSeconds == 0 {
		c.Zerobus.Batch.TimeoutSeconds = 5
	}
	if c.Zerobus.Stream.MaxInflightRecords == 0 {
		c.Zerobus.Stream.MaxInflightRecords = 1_000_000
	}
	if c.Zerobus.Stream.FlushTimeoutMs == 0 {
		c.Zerobus.Stream.FlushTimeoutMs = 300_000
	}
	if c.Zerobus.Stream.ServerLackOfAckTimeoutMs == 0 {
		c.Zerobus.Stream.ServerLackOfAckTimeoutMs = 60_000
	}
	if c.Zerobus.Stream.RecordType == "" {
		c.Zerobus.Stream.RecordType = "JSON"
	}
	if c.Admin.ListenAddr == "" {
		c.Admin.ListenAddr = ":8090"
	}
	if c.FleetMirror.IntervalSeconds == 0 {
		c.FleetMirror.IntervalSeconds = 30
	}
	if c.FleetMirror.RedisAddr != "" && c.FleetMirror.GatewayID == "" {
		if host, err := os.Hostname(); err == nil {
			c.FleetMirror.GatewayID = host
		} else {
			c.FleetMirror.GatewayID = "unknown-gateway"
		}
	}
	for i := range c.Sources {
		c.Sources[i].Protocol = strings.ToLower(c.Sources[i].Protocol)
	}
}

// Validate checks the resolved config against the business rules the
// Bridge must enforce at startup (spec §4.8).
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: source with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		switch s.Protocol {
		case "opcua", "mqtt", "modbus":
		default:
			return fmt.Errorf("config: source %q has unknown protocol %q", s.Name, s.Protocol)
		}
	}
	switch c.Backpressure.MemoryQueue.DropPolicy {
	case "drop_newest", "drop_oldest", "reject":
	default:
		return fmt.Errorf("config: unknown drop_policy %q", c.Backpressure.MemoryQueue.DropPolicy)
	}
	if c.Zerobus.Enabled {
		if c.Zerobus.Auth.ClientID == "" || c.Zerobus.Auth.ClientSecret == "" {
			return fmt.Errorf("config: zerobus.auth requires client_id and client_secret")
		}
		if c.Zerobus.Target.Catalog == "" || c.Zerobus.Target.Schema == "" || c.Zerobus.Target.Table == "" {
			return fmt.Errorf("config: zerobus.target requires catalog, schema, and table")
		}
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
