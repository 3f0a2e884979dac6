package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// account
	AccountID       string
	AccountEmail    string
	AccountPassword string
	SessionSecret   []byte
	SessionStore    string // file, postgres or redis
	SessionDir      string
	LoginTimeout    time.Duration

	DatabaseURL string
	RedisAddr   string

	// pool
	Workers               int
	MaxRestarts           int
	MaxRetries            int
	RetryBackoff          string // fixed or exponential
	RetryDelay            time.Duration
	RetryMaxDelay         time.Duration
	AttemptTimeout        time.Duration
	ShutdownGrace         time.Duration
	AbortOnSessionFailure bool
	LockTTL               time.Duration

	// pricing and matching
	PriceStep    int64
	PriceUnit    int64
	StrategyFile string
	StrategyID   string
	ProfilesFile string

	// browser
	SelectorsFile      string
	ProductURLTemplate string
	LoginURL           string
	Headless           bool

	// outputs
	FailureLog       string
	ResultsFile      string
	NotifyWebhookURL string

	LogLevel  string
	LogFormat string
}

// Load reads a .env file when present, then the environment. Variables
// already set in the environment win over the file.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		AccountID:          getenv("ACCOUNT_ID", "default"),
		AccountEmail:       os.Getenv("ACCOUNT_EMAIL"),
		AccountPassword:    os.Getenv("ACCOUNT_PASSWORD"),
		SessionStore:       getenv("SESSION_STORE", "file"),
		SessionDir:         getenv("SESSION_DIR", ".sessions"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RetryBackoff:       getenv("RETRY_BACKOFF", "exponential"),
		StrategyFile:       getenv("STRATEGY_FILE", "strategies.yaml"),
		StrategyID:         os.Getenv("STRATEGY_ID"),
		ProfilesFile:       os.Getenv("PROFILES_FILE"),
		SelectorsFile:      os.Getenv("SELECTORS_FILE"),
		ProductURLTemplate: os.Getenv("PRODUCT_URL_TEMPLATE"),
		LoginURL:           os.Getenv("LOGIN_URL"),
		FailureLog:         getenv("FAILURE_LOG", "failures.csv"),
		ResultsFile:        os.Getenv("RESULTS_FILE"),
		NotifyWebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
	}

	var err error
	ints := []struct {
		key string
		def int
		lo  int
		dst *int
	}{
		{"WORKERS", 5, 1, &cfg.Workers},
		{"MAX_RESTARTS", 3, 0, &cfg.MaxRestarts},
		{"MAX_RETRIES", 3, 1, &cfg.MaxRetries},
	}
	for _, v := range ints {
		if *v.dst, err = intEnv(v.key, v.def, v.lo); err != nil {
			return Config{}, err
		}
	}

	durations := []struct {
		key  string
		def  int
		unit time.Duration
		dst  *time.Duration
	}{
		{"RETRY_DELAY_MS", 1000, time.Millisecond, &cfg.RetryDelay},
		{"RETRY_MAX_DELAY_MS", 15000, time.Millisecond, &cfg.RetryMaxDelay},
		{"ATTEMPT_TIMEOUT_SECONDS", 120, time.Second, &cfg.AttemptTimeout},
		{"SHUTDOWN_GRACE_SECONDS", 30, time.Second, &cfg.ShutdownGrace},
		{"LOGIN_TIMEOUT_SECONDS", 180, time.Second, &cfg.LoginTimeout},
		{"LOCK_TTL_SECONDS", 300, time.Second, &cfg.LockTTL},
	}
	for _, v := range durations {
		n, err := intEnv(v.key, v.def, 0)
		if err != nil {
			return Config{}, err
		}
		*v.dst = time.Duration(n) * v.unit
	}

	if cfg.PriceStep, err = int64Env("PRICE_STEP", 1000, 0); err != nil {
		return Config{}, err
	}
	if cfg.PriceUnit, err = int64Env("PRICE_UNIT", 100, 1); err != nil {
		return Config{}, err
	}
	if cfg.Headless, err = boolEnv("HEADLESS", true); err != nil {
		return Config{}, err
	}
	if cfg.AbortOnSessionFailure, err = boolEnv("ABORT_ON_SESSION_FAILURE", false); err != nil {
		return Config{}, err
	}

	switch cfg.SessionStore {
	case "file":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("SESSION_STORE=postgres requires DATABASE_URL")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("SESSION_STORE=redis requires REDIS_ADDR")
		}
	default:
		return Config{}, fmt.Errorf("invalid SESSION_STORE %q (want file, postgres or redis)", cfg.SessionStore)
	}
	switch cfg.RetryBackoff {
	case "fixed", "exponential":
	default:
		return Config{}, fmt.Errorf("invalid RETRY_BACKOFF %q (want fixed or exponential)", cfg.RetryBackoff)
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required (base64, at least 16 bytes)")
	}
	cfg.SessionSecret, err = decodeB64(secret)
	if err != nil {
		return Config{}, fmt.Errorf("SESSION_SECRET: %w", err)
	}
	if len(cfg.SessionSecret) < 16 {
		return Config{}, fmt.Errorf("SESSION_SECRET must decode to at least 16 bytes")
	}

	return cfg, nil
}

// decodeB64 accepts a base64 value or the path of a file holding one.
func decodeB64(s string) ([]byte, error) {
	b, err := os.ReadFile(s)
	if err == nil {
		// allow pointing to file path for k8s secret mounts
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if dec, err := base64.StdEncoding.DecodeString(s); err == nil {
		return dec, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func intEnv(key string, def, lo int) (int, error) {
	n, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || n < lo {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func int64Env(key string, def, lo int64) (int64, error) {
	n, err := strconv.ParseInt(getenv(key, strconv.FormatInt(def, 10)), 10, 64)
	if err != nil || n < lo {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, err := strconv.ParseBool(getenv(key, strconv.FormatBool(def)))
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
