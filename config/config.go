// Package config loads service settings from the environment and an
// optional YAML file named by CONFIG_FILE.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const (
	DriverTables = "tables"
	DriverSQLite = "sqlite"
)

// Config is the resolved service configuration.
type Config struct {
	Port      string
	Debug     bool
	LogFormat string

	StorageDriver           string
	StorageConnectionString string
	BoardsTable             string
	ListsTable              string
	TasksTable              string
	HistoryTable            string
	ActivityTable           string
	ActivityQueue           string
	SQLitePath              string

	RedisConnectionString string
	CacheTTL              time.Duration
	DeduperTTL            time.Duration
	BroadcastChannel      string

	SessionSendBuffer int
	WSPingInterval    time.Duration
	AllowedOrigins    []string

	Auth0Domain   string
	Auth0Audience string
	// TestJWTSecret is set when tokens are verified locally with HS256.
	TestJWTSecret string
	JWKSCacheTTL  time.Duration
}

var defaults = map[string]any{
	"port":                "8080",
	"debug":               false,
	"log_format":          "text",
	"storage_driver":      DriverTables,
	"boards_table":        "Boards",
	"lists_table":         "Lists",
	"tasks_table":         "Tasks",
	"history_table":       "TaskHistory",
	"activity_table":      "Activity",
	"activity_queue":      "",
	"sqlite_path":         "taskflow.db",
	"cache_ttl":           "5m",
	"deduper_ttl":         "24h",
	"broadcast_channel":   "",
	"session_send_buffer": 64,
	"ws_ping_interval":    "30s",
	"allowed_origins":     "*",
	"jwks_cache_ttl":      "15m",
}

// Load resolves the configuration. Environment variables win over the
// config file, which wins over defaults.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	for _, k := range []string{
		"storage_connection_string", "redis_connection_string", "auth0_domain", "auth0_audience",
		"auth0_test_mode", "test_jwt_secret", "local_auth_mode", "local_auth_shared_secret", "functions_customhandler_port",
	} {
		_ = v.BindEnv(k)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                    v.GetString("port"),
		Debug:                   v.GetBool("debug"),
		LogFormat:               strings.ToLower(v.GetString("log_format")),
		StorageDriver:           strings.ToLower(v.GetString("storage_driver")),
		StorageConnectionString: v.GetString("storage_connection_string"),
		BoardsTable:             v.GetString("boards_table"),
		ListsTable:              v.GetString("lists_table"),
		TasksTable:              v.GetString("tasks_table"),
		HistoryTable:            v.GetString("history_table"),
		ActivityTable:           v.GetString("activity_table"),
		ActivityQueue:           v.GetString("activity_queue"),
		SQLitePath:              v.GetString("sqlite_path"),
		RedisConnectionString:   v.GetString("redis_connection_string"),
		BroadcastChannel:        v.GetString("broadcast_channel"),
		SessionSendBuffer:       v.GetInt("session_send_buffer"),
		AllowedOrigins:          splitList(v.GetString("allowed_origins")),
		Auth0Domain:             v.GetString("auth0_domain"),
		Auth0Audience:           v.GetString("auth0_audience"),
	}
	if p := v.GetString("functions_customhandler_port"); p != "" {
		cfg.Port = p
	}

	var err error
	if cfg.CacheTTL, err = duration(v, "cache_ttl"); err != nil {
		return nil, err
	}
	if cfg.DeduperTTL, err = duration(v, "deduper_ttl"); err != nil {
		return nil, err
	}
	if cfg.WSPingInterval, err = duration(v, "ws_ping_interval"); err != nil {
		return nil, err
	}
	if cfg.JWKSCacheTTL, err = duration(v, "jwks_cache_ttl"); err != nil {
		return nil, err
	}
	if cfg.TestJWTSecret, err = testSecret(v); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

func testSecret(v *viper.Viper) (string, error) {
	if mode := strings.ToLower(v.GetString("local_auth_mode")); mode != "" {
		if mode != "hs256" {
			return "", fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
		}
		secret := v.GetString("local_auth_shared_secret")
		if secret == "" {
			return "", errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return secret, nil
	}
	if v.GetString("auth0_test_mode") == "1" {
		secret := v.GetString("test_jwt_secret")
		if secret == "" {
			return "", errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return secret, nil
	}
	return "", nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case DriverTables:
		if c.StorageConnectionString == "" {
			return errors.New("missing storage config: STORAGE_CONNECTION_STRING")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing storage config: SQLITE_PATH")
		}
		if c.ActivityQueue != "" {
			return errors.New("ACTIVITY_QUEUE requires STORAGE_DRIVER=tables")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.TestJWTSecret == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		return errors.New("missing Auth0 config")
	}
	if c.BroadcastChannel != "" && c.RedisConnectionString == "" {
		return errors.New("BROADCAST_CHANNEL requires REDIS_CONNECTION_STRING")
	}
	if c.SessionSendBuffer <= 0 {
		return fmt.Errorf("invalid SESSION_SEND_BUFFER: %d", c.SessionSendBuffer)
	}
	return nil
}

// Issuer is the token issuer expected in RS256 mode.
func (c *Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL is where signing keys are fetched in RS256 mode.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RedisOptions accepts either a redis:// URL or the
// "host:port,password=...,ssl=true" connection string form.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" || strings.Contains(opts.Addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
