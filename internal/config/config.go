package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvGuardFailMode = "GUARD_FAIL_MODE"
	EnvHazardsFile   = "HAZARDS_FILE"
	EnvUpstream      = "UPSTREAM"
)

// Fail modes applied when the store is unavailable.
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

const (
	defaultPort        = 8080
	defaultJWTExpiry   = 30 * 24 * time.Hour
	defaultSQLiteDSN   = "file:hazardguard.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	defaultHeaderName  = "X-Ninja"
	defaultKeyPrefix   = "ninja"
	defaultPollSeconds = 5
)

var defaultAllowedMethods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoggingConfig selects the logrus level and formatter.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StoreConfig selects the bucket and blockage store.
type StoreConfig struct {
	Backend       string      `yaml:"backend"`  // memory or redis.
	Fallback      string      `yaml:"fallback"` // memory or none.
	Prefix        string      `yaml:"prefix"`
	AtomicBuckets bool        `yaml:"atomic-buckets"`
	Redis         RedisConfig `yaml:"redis"`
}

// GuardConfig tunes request evaluation.
type GuardConfig struct {
	FailMode      string `yaml:"fail-mode"`
	HazardsFile   string `yaml:"hazards-file"`
	RuntimeHeader *bool  `yaml:"runtime-header"`
	HeaderName    string `yaml:"header-name"`
	PollSeconds   int    `yaml:"poll-seconds"`
	WatchFile     *bool  `yaml:"watch-file"`
}

// Config is the full service configuration.
type Config struct {
	Path string `yaml:"-"`

	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Upstream       string   `yaml:"upstream"`
	TrustedProxies []string `yaml:"trusted-proxies"`
	AllowedMethods []string `yaml:"allowed-methods"`

	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	JWT     JWTConfig     `yaml:"jwt"`
	Logging LoggingConfig `yaml:"logging"`
	Store   StoreConfig   `yaml:"store"`
	Guard   GuardConfig   `yaml:"guard"`
}

// Load reads the YAML config file, applies environment overrides and
// defaults, and validates the result. A missing file yields defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{Path: configPath}

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		cfg.Path = configPath
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		c.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			c.JWT.Expiry = expiry
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.Store.Redis.Addr = addr
		if strings.TrimSpace(c.Store.Backend) == "" {
			c.Store.Backend = "redis"
		}
	}
	if password := os.Getenv(EnvRedisPassword); password != "" {
		c.Store.Redis.Password = password
	}
	if mode := strings.TrimSpace(os.Getenv(EnvGuardFailMode)); mode != "" {
		c.Guard.FailMode = mode
	}
	if file := strings.TrimSpace(os.Getenv(EnvHazardsFile)); file != "" {
		c.Guard.HazardsFile = file
	}
	if upstream := strings.TrimSpace(os.Getenv(EnvUpstream)); upstream != "" {
		c.Upstream = upstream
	}
}

func (c *Config) applyDefaults() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = append([]string(nil), defaultAllowedMethods...)
	}
	for i, method := range c.AllowedMethods {
		c.AllowedMethods[i] = strings.ToUpper(strings.TrimSpace(method))
	}

	if strings.TrimSpace(c.DatabaseDSN) == "" {
		c.DatabaseDSN = strings.TrimSpace(c.Database.DSN)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		c.DatabaseDSN = defaultSQLiteDSN
	}

	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	c.Store.Fallback = strings.ToLower(strings.TrimSpace(c.Store.Fallback))
	if c.Store.Fallback == "" {
		c.Store.Fallback = "memory"
	}
	if strings.TrimSpace(c.Store.Prefix) == "" {
		c.Store.Prefix = defaultKeyPrefix
	}

	c.Guard.FailMode = strings.ToLower(strings.TrimSpace(c.Guard.FailMode))
	if c.Guard.FailMode == "" {
		c.Guard.FailMode = FailOpen
	}
	if c.Guard.RuntimeHeader == nil {
		enabled := true
		c.Guard.RuntimeHeader = &enabled
	}
	if c.Guard.WatchFile == nil {
		enabled := true
		c.Guard.WatchFile = &enabled
	}
	if strings.TrimSpace(c.Guard.HeaderName) == "" {
		c.Guard.HeaderName = defaultHeaderName
	}
	if c.Guard.PollSeconds == 0 {
		c.Guard.PollSeconds = defaultPollSeconds
	}
	if file := strings.TrimSpace(c.Guard.HazardsFile); file != "" && !filepath.IsAbs(file) && c.Path != "" {
		c.Guard.HazardsFile = filepath.Join(filepath.Dir(c.Path), file)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if upstream := strings.TrimSpace(c.Upstream); upstream != "" {
		parsed, errParse := url.Parse(upstream)
		if errParse != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid upstream url: %q", upstream)
		}
	}
	switch c.Guard.FailMode {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("invalid guard fail-mode: %q (want open or closed)", c.Guard.FailMode)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return errors.New("store backend redis requires store.redis.addr or " + EnvRedisAddr)
		}
	default:
		return fmt.Errorf("invalid store backend: %q (want memory or redis)", c.Store.Backend)
	}
	switch c.Store.Fallback {
	case "memory", "none":
	default:
		return fmt.Errorf("invalid store fallback: %q (want memory or none)", c.Store.Fallback)
	}
	if c.Guard.PollSeconds < 0 {
		return fmt.Errorf("invalid guard poll-seconds: %d", c.Guard.PollSeconds)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// PollInterval returns the database poll interval for hazard reloads.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Guard.PollSeconds) * time.Second
}
