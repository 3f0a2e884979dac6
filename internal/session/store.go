package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/resale-repricer/internal/db"
)

// FileStore keeps one file per account under Dir.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore { return &FileStore{Dir: dir} }

func (s *FileStore) path(accountID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '@':
			return r
		}
		return '_'
	}, accountID)
	return filepath.Join(s.Dir, name+".session")
}

func (s *FileStore) Load(_ context.Context, accountID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return b, nil
}

// Save writes through a temp file and renames it into place.
func (s *FileStore) Save(_ context.Context, accountID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	f, err := os.CreateTemp(s.Dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp, s.path(accountID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// PostgresStore keeps blobs in account_sessions.
type PostgresStore struct{ db db.Querier }

func NewPostgresStore(q db.Querier) *PostgresStore { return &PostgresStore{db: q} }

func (s *PostgresStore) Load(ctx context.Context, accountID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `SELECT blob FROM account_sessions WHERE account_id=$1`, accountID).Scan(&blob)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	return blob, nil
}

func (s *PostgresStore) Save(ctx context.Context, accountID string, blob []byte) error {
	err := s.db.Exec(ctx, `
INSERT INTO account_sessions(account_id, blob, updated_at) VALUES ($1,$2,$3)
ON CONFLICT (account_id) DO UPDATE SET blob=EXCLUDED.blob, updated_at=EXCLUDED.updated_at`,
		accountID, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RedisStore keeps blobs under repricer:session:<account>.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func RedisKey(accountID string) string { return "repricer:session:" + accountID }

func (s *RedisStore) Load(ctx context.Context, accountID string) ([]byte, error) {
	b, err := s.client.Get(ctx, RedisKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return b, nil
}

func (s *RedisStore) Save(ctx context.Context, accountID string, blob []byte) error {
	if err := s.client.Set(ctx, RedisKey(accountID), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}
