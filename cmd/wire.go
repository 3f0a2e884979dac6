package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/actuator"
	"github.com/example/resale-repricer/internal/config"
	"github.com/example/resale-repricer/internal/db"
	"github.com/example/resale-repricer/internal/lockset"
	"github.com/example/resale-repricer/internal/migrate"
	"github.com/example/resale-repricer/internal/pricing"
	"github.com/example/resale-repricer/internal/retry"
	"github.com/example/resale-repricer/internal/session"
	"github.com/example/resale-repricer/internal/sizes"
)

// stack holds the shared connections a command opened.
type stack struct {
	cfg   config.Config
	log   *logrus.Logger
	db    *db.DB
	redis *redis.Client
}

// openStack connects to Postgres when needDB or the session store asks for
// it, and to Redis whenever REDIS_ADDR is set.
func openStack(ctx context.Context, cfg config.Config, log *logrus.Logger, needDB bool) (*stack, error) {
	s := &stack{cfg: cfg, log: log}
	if needDB || cfg.SessionStore == "postgres" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		d, err := db.Open(ctx, cfg.DatabaseURL, int32(cfg.Workers+2))
		if err != nil {
			return nil, err
		}
		if err := d.Ping(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if _, err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.db = d
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			s.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.redis = rdb
	}
	return s, nil
}

func (s *stack) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *stack) sessionStore() session.Store {
	switch s.cfg.SessionStore {
	case "postgres":
		return session.NewPostgresStore(s.db)
	case "redis":
		return session.NewRedisStore(s.redis, 0)
	}
	return session.NewFileStore(s.cfg.SessionDir)
}

func (s *stack) authority(auth session.Authenticator) (*session.Authority, error) {
	return s.authorityWith(auth, s.sessionStore())
}

func (s *stack) authorityWith(auth session.Authenticator, store session.Store) (*session.Authority, error) {
	codec, err := session.NewCodecFromSecret(s.cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	return session.NewAuthority(session.AuthorityConfig{
		AccountID:     s.cfg.AccountID,
		Authenticator: auth,
		Store:         store,
		Codec:         codec,
		LoginTimeout:  s.cfg.LoginTimeout,
		Log:           s.log,
	}), nil
}

// locker shares item locks through Redis when several processes may work
// the same batch.
func (s *stack) locker() lockset.Locker {
	if s.redis != nil {
		return lockset.NewRedis(s.redis, s.cfg.LockTTL, s.log)
	}
	return lockset.NewMemory()
}

func (s *stack) launcher() (*actuator.Launcher, error) {
	sel, err := actuator.LoadSelectors(s.cfg.SelectorsFile)
	if err != nil {
		return nil, err
	}
	return actuator.NewLauncher(actuator.Options{
		Headless:  s.cfg.Headless,
		Install:   true,
		Timeout:   s.cfg.AttemptTimeout / 2,
		LoginURL:  s.cfg.LoginURL,
		Email:     s.cfg.AccountEmail,
		Password:  s.cfg.AccountPassword,
		Selectors: sel,
		Log:       s.log,
	}), nil
}

func retryPolicy(cfg config.Config) retry.Policy {
	delay := retry.Fixed(cfg.RetryDelay)
	if cfg.RetryBackoff == "exponential" {
		delay = retry.Exponential(cfg.RetryDelay, cfg.RetryMaxDelay)
	}
	return retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: delay}
}

func loadMatcher(cfg config.Config, log logrus.FieldLogger) (*sizes.Matcher, error) {
	profiles := sizes.DefaultProfiles()
	if cfg.ProfilesFile != "" {
		p, err := sizes.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, err
		}
		profiles = p
	}
	return sizes.NewMatcher(profiles, log), nil
}

func loadStrategy(path, id string) (*pricing.Strategy, error) {
	set, err := pricing.LoadStrategies(path)
	if err != nil {
		return nil, err
	}
	return set.Select(id)
}
