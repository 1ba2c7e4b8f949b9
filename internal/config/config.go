package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AUTHSERVER"

// Configuration keys
const (
	KeyEnvironment       = "env"
	KeyListenAddr        = "listen_addr"
	KeyIssuer            = "issuer"
	KeyAccessTokenTTL    = "access_token_ttl"
	KeySweepInterval     = "sweep_interval"
	KeyTrustProxy        = "trust_proxy"
	KeyTrustedProxyCount = "trusted_proxy_count"
	KeyRateLimitRate     = "rate_limit.rate"
	KeyRateLimitBurst    = "rate_limit.burst"
	KeyAuditLog          = "audit_log"
	KeyMetricsEnabled    = "metrics.enabled"
	KeyLogClientIPs      = "metrics.log_client_ips"
	KeyDatabaseAddr      = "database.addr"
	KeyDatabaseUser      = "database.user"
	KeyDatabasePassword  = "database.password"
	KeyDatabaseName      = "database.name"
	KeyDatabaseMaxOpen   = "database.max_open_conns"
	KeyDatabaseMaxIdle   = "database.max_idle_conns"
	KeyDatabaseLifetime  = "database.conn_max_lifetime"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

// Config is the process configuration.
type Config struct {
	Environment Environment
	ListenAddr  string

	Issuer         string
	AccessTokenTTL time.Duration
	SweepInterval  time.Duration

	TrustProxy        bool
	TrustedProxyCount int

	RateLimitRate  int
	RateLimitBurst int

	AuditLog       bool
	MetricsEnabled bool
	LogClientIPs   bool

	Database DatabaseConfig
	Log      LogConfig
}

// DatabaseConfig holds the MySQL connection settings.
type DatabaseConfig struct {
	Addr            string
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// NewViper returns a viper instance reading AUTHSERVER_* environment
// variables, with defaults for every key.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnvironment, "local")
	v.SetDefault(KeyListenAddr, ":8080")
	v.SetDefault(KeyAccessTokenTTL, time.Hour)
	v.SetDefault(KeySweepInterval, 5*time.Minute)
	v.SetDefault(KeyTrustProxy, false)
	v.SetDefault(KeyTrustedProxyCount, 1)
	v.SetDefault(KeyRateLimitRate, 10)
	v.SetDefault(KeyRateLimitBurst, 20)
	v.SetDefault(KeyAuditLog, true)
	v.SetDefault(KeyMetricsEnabled, true)
	v.SetDefault(KeyLogClientIPs, false)
	v.SetDefault(KeyDatabaseAddr, "127.0.0.1:3306")
	v.SetDefault(KeyDatabaseUser, "authserver")
	v.SetDefault(KeyDatabaseName, "authserver")
	v.SetDefault(KeyDatabaseMaxOpen, 25)
	v.SetDefault(KeyDatabaseMaxIdle, 5)
	v.SetDefault(KeyDatabaseLifetime, 5*time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// ReadFile reads path into v. An empty path searches the working directory
// for authserver.yaml; a missing file is not an error then.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("authserver")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("reading config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	env, err := ParseEnvironment(v.GetString(KeyEnvironment))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:       env,
		ListenAddr:        v.GetString(KeyListenAddr),
		Issuer:            v.GetString(KeyIssuer),
		AccessTokenTTL:    v.GetDuration(KeyAccessTokenTTL),
		SweepInterval:     v.GetDuration(KeySweepInterval),
		TrustProxy:        v.GetBool(KeyTrustProxy),
		TrustedProxyCount: v.GetInt(KeyTrustedProxyCount),
		RateLimitRate:     v.GetInt(KeyRateLimitRate),
		RateLimitBurst:    v.GetInt(KeyRateLimitBurst),
		AuditLog:          v.GetBool(KeyAuditLog),
		MetricsEnabled:    v.GetBool(KeyMetricsEnabled),
		LogClientIPs:      v.GetBool(KeyLogClientIPs),
		Database: DatabaseConfig{
			Addr:            v.GetString(KeyDatabaseAddr),
			User:            v.GetString(KeyDatabaseUser),
			Password:        v.GetString(KeyDatabasePassword),
			Name:            v.GetString(KeyDatabaseName),
			MaxOpenConns:    v.GetInt(KeyDatabaseMaxOpen),
			MaxIdleConns:    v.GetInt(KeyDatabaseMaxIdle),
			ConnMaxLifetime: v.GetDuration(KeyDatabaseLifetime),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("%s is required", KeyIssuer)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL: %q", KeyIssuer, c.Issuer)
	}
	if u.Scheme != "https" && c.Environment.IsProduction() {
		return fmt.Errorf("%s must use https in production", KeyIssuer)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeyAccessTokenTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", KeySweepInterval)
	}
	if c.Database.Addr == "" || c.Database.Name == "" {
		return fmt.Errorf("%s and %s are required", KeyDatabaseAddr, KeyDatabaseName)
	}
	return nil
}

// AllowInsecureIssuer reports whether an http issuer is acceptable.
func (c *Config) AllowInsecureIssuer() bool {
	return !c.Environment.IsProduction()
}

// DSN renders the MySQL data source name. Timestamps are parsed into
// time.Time in UTC.
func (d DatabaseConfig) DSN() string {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = d.Addr
	mc.User = d.User
	mc.Passwd = d.Password
	mc.DBName = d.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}
