package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageFile   = "file"
)

type Config struct {
	Server             ServerConfig        `mapstructure:"server"`
	Storage            StorageConfig       `mapstructure:"storage"`
	Tokens             TokenConfig         `mapstructure:"tokens"`
	KeyManagement      KeyManagementConfig `mapstructure:"key_management"`
	Cleanup            CleanupConfig       `mapstructure:"cleanup"`
	ServerSideSessions SessionConfig       `mapstructure:"server_side_sessions"`
	DeviceFlow         DeviceFlowConfig    `mapstructure:"device_flow"`
	Cors               CorsConfig          `mapstructure:"cors"`
	Security           SecurityConfig      `mapstructure:"security"`
	Logging            LoggingConfig       `mapstructure:"logging"`
	Bootstrap          BootstrapConfig     `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port             string        `mapstructure:"port"`
	AppName          string        `mapstructure:"app_name"`
	BaseURL          string        `mapstructure:"base_url"` // issuer and base of every endpoint
	Env              string        `mapstructure:"env"`
	LoginURL         string        `mapstructure:"login_url"`
	ConsentURL       string        `mapstructure:"consent_url"`
	CreateAccountURL string        `mapstructure:"create_account_url"`
	ErrorURL         string        `mapstructure:"error_url"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Folder  string      `mapstructure:"folder"`
	SQLite  string      `mapstructure:"sqlite_path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TokenConfig struct {
	DeleteOneTimeOnlyRefreshTokensOnUse bool          `mapstructure:"delete_one_time_only_refresh_tokens_on_use"`
	PushedAuthorizationLifetime         time.Duration `mapstructure:"pushed_authorization_lifetime"`
	ConsentMessageLifetime              time.Duration `mapstructure:"consent_message_lifetime"`
	ClockSkew                           time.Duration `mapstructure:"clock_skew"`
}

type KeyManagementConfig struct {
	Algorithms                     []string      `mapstructure:"algorithms"`
	UseX509Certificate             bool          `mapstructure:"use_x509_certificate"`
	RSAKeySize                     int           `mapstructure:"rsa_key_size"`
	InitializationDuration         time.Duration `mapstructure:"initialization_duration"`
	KeyExpiration                  time.Duration `mapstructure:"key_expiration"`
	KeyRetirement                  time.Duration `mapstructure:"key_retirement"`
	KeyCacheDuration               time.Duration `mapstructure:"key_cache_duration"`
	InitializationKeyCacheDuration time.Duration `mapstructure:"initialization_key_cache_duration"`
	DeleteRetiredKeys              bool          `mapstructure:"delete_retired_keys"`
	DataProtectionSecret           string        `mapstructure:"data_protection_secret"`
	Store                          string        `mapstructure:"store"`
	KeyPath                        string        `mapstructure:"key_path"`
}

type CleanupConfig struct {
	Enabled                   bool          `mapstructure:"enabled"`
	Interval                  time.Duration `mapstructure:"interval"`
	BatchSize                 int           `mapstructure:"batch_size"`
	RemoveConsumedTokens      bool          `mapstructure:"remove_consumed_tokens"`
	ConsumedTokenCleanupDelay time.Duration `mapstructure:"consumed_token_cleanup_delay"`
}

type SessionConfig struct {
	Enabled                                 bool          `mapstructure:"enabled"`
	CookieName                              string        `mapstructure:"cookie_name"`
	SlidingExpiration                       time.Duration `mapstructure:"sliding_expiration"`
	RemoveExpiredSessions                   bool          `mapstructure:"remove_expired_sessions"`
	RemoveExpiredSessionsFrequency          time.Duration `mapstructure:"remove_expired_sessions_frequency"`
	RemoveExpiredSessionsBatchSize          int           `mapstructure:"remove_expired_sessions_batch_size"`
	ExpiredSessionsTriggerBackchannelLogout bool          `mapstructure:"expired_sessions_trigger_backchannel_logout"`
	RevokeTokensOnExpiredSession            bool          `mapstructure:"revoke_tokens_on_expired_session"`
	BackchannelLogoutTimeout                time.Duration `mapstructure:"backchannel_logout_timeout"`
}

type DeviceFlowConfig struct {
	DefaultUserCodeType string `mapstructure:"default_user_code_type"`
	UserCodeLength      int    `mapstructure:"user_code_length"`
	UserCodeRetryLimit  int    `mapstructure:"user_code_retry_limit"`
	VerificationURI     string `mapstructure:"verification_uri"`
}

type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type SecurityConfig struct {
	RequirePKCE        bool    `mapstructure:"require_pkce"`
	EnableRateLimiting bool    `mapstructure:"enable_rate_limiting"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// BootstrapConfig seeds the catalogs at startup. CatalogPath names a JSON file of clients,
// resources and users; the administrator and the default clients are created when missing.
type BootstrapConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassword string `mapstructure:"admin_password"`
	CatalogPath   string `mapstructure:"catalog_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.app_name", "Go OIDC Engine")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.env", "DEV")
	v.SetDefault("server.login_url", "/account/login")
	v.SetDefault("server.consent_url", "/consent")
	v.SetDefault("server.create_account_url", "/account/create")
	v.SetDefault("server.error_url", "/home/error")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.folder", "./data")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key_prefix", "oidc:")

	v.SetDefault("tokens.pushed_authorization_lifetime", 60*time.Second)
	v.SetDefault("tokens.consent_message_lifetime", 5*time.Minute)
	v.SetDefault("tokens.clock_skew", 5*time.Minute)

	v.SetDefault("key_management.algorithms", []string{"RS256"})
	v.SetDefault("key_management.rsa_key_size", 2048)
	v.SetDefault("key_management.initialization_duration", 14*24*time.Hour)
	v.SetDefault("key_management.key_expiration", 90*24*time.Hour)
	v.SetDefault("key_management.key_retirement", 104*24*time.Hour)
	v.SetDefault("key_management.initialization_key_cache_duration", time.Minute)
	v.SetDefault("key_management.delete_retired_keys", true)
	v.SetDefault("key_management.store", StorageMemory)
	v.SetDefault("key_management.key_path", "./data/keys")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", time.Hour)
	v.SetDefault("cleanup.batch_size", 100)
	v.SetDefault("cleanup.consumed_token_cleanup_delay", 0)

	v.SetDefault("server_side_sessions.cookie_name", "oidc.session")
	v.SetDefault("server_side_sessions.sliding_expiration", 10*time.Hour)
	v.SetDefault("server_side_sessions.remove_expired_sessions", true)
	v.SetDefault("server_side_sessions.remove_expired_sessions_frequency", 10*time.Minute)
	v.SetDefault("server_side_sessions.remove_expired_sessions_batch_size", 100)
	v.SetDefault("server_side_sessions.backchannel_logout_timeout", 5*time.Second)

	v.SetDefault("device_flow.default_user_code_type", "Base20")
	v.SetDefault("device_flow.user_code_length", 8)
	v.SetDefault("device_flow.user_code_retry_limit", 5)
	v.SetDefault("device_flow.verification_uri", "/device")

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", 86400)

	v.SetDefault("security.rate_limit_per_second", 50.0)
	v.SetDefault("security.rate_limit_burst", 100)

	v.SetDefault("logging.level", "info")

	v.SetDefault("bootstrap.enabled", true)
	v.SetDefault("bootstrap.admin_user", "admin")
}

// Load reads configuration from an optional file plus OIDC_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OIDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnvBindings {
		if err := v.BindEnv(key, "OIDC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with no file and no environment overrides applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	_ = cfg.normalise()
	return cfg
}

func (c *Config) normalise() error {
	if c.Server.Port != "" && c.Server.Port[0] != ':' {
		c.Server.Port = ":" + c.Server.Port
	}
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")

	km := &c.KeyManagement
	if km.KeyExpiration <= km.InitializationDuration {
		return fmt.Errorf("key_management.key_expiration (%s) must exceed initialization_duration (%s)", km.KeyExpiration, km.InitializationDuration)
	}
	if km.KeyRetirement < km.KeyExpiration {
		return fmt.Errorf("key_management.key_retirement (%s) must not be shorter than key_expiration (%s)", km.KeyRetirement, km.KeyExpiration)
	}
	if km.KeyCacheDuration == 0 {
		km.KeyCacheDuration = km.InitializationDuration / 4
	}

	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.SQLite == "" {
		c.Storage.SQLite = filepath.Join(c.Storage.Folder, "oidc.db")
	}
	if c.Cleanup.BatchSize <= 0 {
		return fmt.Errorf("cleanup.batch_size must be positive")
	}
	return nil
}

// IsDev reports whether the server runs in the development environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Server.Env, "DEV")
}
