// Package config loads server settings from an optional .env file, the
// process environment and command-line flags, in increasing precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockMemory   = "memory"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

type Config struct {
	Port     string
	DBPath   string
	AppEnv   string
	LogMode  string
	Timezone string

	LockBackend string
	LockTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	SchedulerEnabled   bool
	SchedulerInterval  time.Duration
	SchedulerFreezeDay int
}

// Lookup resolves a key. It lets tests run without touching os.Environ.
type Lookup func(key string) (string, bool)

// Load reads envFiles (missing files are skipped), then the environment,
// then args as flags.
func Load(args []string, envFiles ...string) (*Config, error) {
	fileEnv := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	return FromLookup(lookup, args)
}

// FromLookup builds a Config from lookup and applies flag overrides.
func FromLookup(lookup Lookup, args []string) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		Port:          get("PORT", "8080"),
		DBPath:        get("DB_PATH", "cohorts.db"),
		AppEnv:        get("APP_ENV", "dev"),
		Timezone:      get("TIMEZONE", "UTC"),
		LockBackend:   strings.ToLower(get("LOCK_BACKEND", LockMemory)),
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
		PostgresDSN:   get("POSTGRES_DSN", ""),
	}
	cfg.LogMode = get("LOG_MODE", defaultLogMode(cfg.AppEnv))

	var err error
	if cfg.LockTimeout, err = parseDuration("LOCK_TIMEOUT", get("LOCK_TIMEOUT", "10s")); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseInt("REDIS_DB", get("REDIS_DB", "0")); err != nil {
		return nil, err
	}
	if cfg.SchedulerEnabled, err = parseBool("SCHEDULER_ENABLED", get("SCHEDULER_ENABLED", "false")); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = parseDuration("SCHEDULER_INTERVAL", get("SCHEDULER_INTERVAL", "1h")); err != nil {
		return nil, err
	}
	if cfg.SchedulerFreezeDay, err = parseInt("SCHEDULER_FREEZE_DAY", get("SCHEDULER_FREEZE_DAY", "28")); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.LockBackend, "lock", cfg.LockBackend, "Freeze lock backend (memory, redis, postgres)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockMemory, LockRedis:
	case LockPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for lock backend %q", c.LockBackend)
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	if c.SchedulerFreezeDay < 1 || c.SchedulerFreezeDay > 28 {
		return fmt.Errorf("SCHEDULER_FREEZE_DAY must be between 1 and 28")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func defaultLogMode(appEnv string) string {
	if appEnv == "prod" || appEnv == "production" {
		return "prod"
	}
	return "dev"
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseBool(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
