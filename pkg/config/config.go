// Package config reads the ledger's settings from an optional .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/logging"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Backend variants.
const (
	BackendMemory = "memory"
	BackendKV     = "kv"
	BackendRows   = "rows"
)

// Key-value drivers.
const (
	DriverRedis   = "redis"
	DriverLevelDB = "leveldb"
)

// Activity sinks.
const (
	ActivityNone   = "none"
	ActivityMemory = "memory"
	ActivityLog    = "log"
)

// Config is the complete runtime configuration.
type Config struct {
	Backend  string
	LedgerID string
	Players  []string

	// AwardTable is "canonical", "demo" or a YAML file path. Empty picks
	// demo for the memory backend and canonical otherwise.
	AwardTable string

	KVDriver      string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	LevelDBPath   string
	PostgresDSN   string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	AutoProvision  bool

	Activity          string
	APIAddr           string
	ReconcileInterval time.Duration

	Logging logging.Config
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:        BackendMemory,
		LedgerID:       "default",
		Players:        []string{"Alice", "Bob", "Charlie", "Dana"},
		KVDriver:       DriverRedis,
		RedisAddr:      "localhost:6379",
		RedisPrefix:    "pot:",
		LevelDBPath:    "pot-ledger.db",
		PostgresDSN:    "host=localhost port=5432 user=postgres password=postgres dbname=pot_ledger sslmode=disable",
		RetryAttempts:  5,
		RetryBaseDelay: 10 * time.Millisecond,
		Timeout:        5 * time.Second,
		AutoProvision:  true,
		Activity:       ActivityLog,
		APIAddr:        ":8080",
		Logging:        logging.DefaultConfig(),
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing files are skipped; variables already set in the
// environment win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables over Default.
func FromEnv() (Config, error) {
	c := Default()
	e := &reader{}

	e.str("POT_BACKEND", &c.Backend)
	e.str("POT_LEDGER_ID", &c.LedgerID)
	e.list("POT_PLAYERS", &c.Players)
	e.str("POT_AWARD_TABLE", &c.AwardTable)
	e.str("POT_KV_DRIVER", &c.KVDriver)
	e.str("POT_REDIS_ADDR", &c.RedisAddr)
	e.str("POT_REDIS_PASSWORD", &c.RedisPassword)
	e.str("POT_REDIS_PREFIX", &c.RedisPrefix)
	e.str("POT_LEVELDB_PATH", &c.LevelDBPath)
	e.str("POT_POSTGRES_DSN", &c.PostgresDSN)
	e.integer("POT_RETRY_ATTEMPTS", &c.RetryAttempts)
	e.duration("POT_RETRY_BASE_DELAY", &c.RetryBaseDelay)
	e.duration("POT_TIMEOUT", &c.Timeout)
	e.boolean("POT_AUTO_PROVISION", &c.AutoProvision)
	e.str("POT_ACTIVITY", &c.Activity)
	e.str("POT_API_ADDR", &c.APIAddr)
	e.duration("POT_RECONCILE_INTERVAL", &c.ReconcileInterval)

	c.Logging = logging.ConfigFromEnv()

	if e.err != nil {
		return Config{}, e.err
	}
	return c, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	var err error

	switch c.Backend {
	case BackendMemory:
	case BackendKV:
		switch c.KVDriver {
		case DriverRedis:
			if c.RedisAddr == "" {
				err = multierr.Append(err, errors.New("POT_REDIS_ADDR is required for the redis driver"))
			}
		case DriverLevelDB:
			if c.LevelDBPath == "" {
				err = multierr.Append(err, errors.New("POT_LEVELDB_PATH is required for the leveldb driver"))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("unknown POT_KV_DRIVER %q", c.KVDriver))
		}
	case BackendRows:
		if c.PostgresDSN == "" {
			err = multierr.Append(err, errors.New("POT_POSTGRES_DSN is required for the rows backend"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown POT_BACKEND %q", c.Backend))
	}

	if strings.TrimSpace(c.LedgerID) == "" {
		err = multierr.Append(err, errors.New("POT_LEDGER_ID must not be empty"))
	}
	if c.RetryAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("POT_RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts))
	}
	if c.Timeout < 0 || c.RetryBaseDelay < 0 || c.ReconcileInterval < 0 {
		err = multierr.Append(err, errors.New("durations must not be negative"))
	}

	switch c.Activity {
	case ActivityNone, ActivityMemory, ActivityLog:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown POT_ACTIVITY %q", c.Activity))
	}

	if _, lerr := logging.ParseLevel(c.Logging.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	if _, aerr := c.Awards(); aerr != nil {
		err = multierr.Append(err, aerr)
	}

	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Awards resolves the configured award table.
func (c Config) Awards() (awards.Table, error) {
	name := c.AwardTable
	if name == "" {
		name = awards.CanonicalName
		if c.Backend == BackendMemory {
			name = awards.DemoName
		}
	}
	return awards.Resolve(name)
}

// reader collects parse errors across variables.
type reader struct {
	err error
}

func (r *reader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (r *reader) list(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (r *reader) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (r *reader) boolean(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}
