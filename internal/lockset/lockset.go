// Package lockset guarantees that at most one worker processes an item at a
// time, within one process (Memory) or across processes (Redis).
package lockset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"github.com/example/resale-repricer/internal/logging"
)

type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out per-key locks without blocking. ok is false when another
// holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (lock Lock, ok bool, err error)
}

type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory { return &Memory{held: map[string]struct{}{}} }

func (m *Memory) TryLock(_ context.Context, key string) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	return &memoryLock{m: m, key: key}, true, nil
}

// Held reports whether key is locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

type memoryLock struct {
	m    *Memory
	key  string
	once sync.Once
}

func (l *memoryLock) Release(context.Context) error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.key)
		l.m.mu.Unlock()
	})
	return nil
}

// Redis locks keys as repricer:lock:<key> and keeps them alive with a
// background refresh every ttl/2 until released.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewRedis(rdb redislock.RedisClient, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, log: logging.Component(log, "lockset")}
}

func RedisKey(key string) string { return "repricer:lock:" + key }

func (r *Redis) TryLock(ctx context.Context, key string) (Lock, bool, error) {
	lock, err := r.client.Obtain(ctx, RedisKey(key), r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain item lock %s: %w", key, err)
	}
	rl := &redisLock{lock: lock, ttl: r.ttl, stop: make(chan struct{}), done: make(chan struct{})}
	go rl.keepAlive(r.log.WithField("item", key))
	return rl, true, nil
}

type redisLock struct {
	lock *redislock.Lock
	ttl  time.Duration
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (l *redisLock) keepAlive(log *logrus.Entry) {
	defer close(l.done)
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := l.lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				log.WithError(err).Warn("item lock refresh failed")
				return
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			err = nil
		}
	})
	return err
}
