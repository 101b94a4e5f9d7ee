package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("lock held by another process")

// RunKey is the lock that serialises imports for one company.
func RunKey(realmID string) string {
	return fmt.Sprintf("qbimport:run:%s", realmID)
}

type Locker struct {
	rdb    *redis.Client
	locker *redislock.Client
	log    *logrus.Entry
}

// Connect pings addr and returns a Locker on top of it.
func Connect(ctx context.Context, addr, password string, log *logrus.Entry) (*Locker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Locker{rdb: rdb, locker: redislock.New(rdb), log: log}, nil
}

func (l *Locker) Close() error {
	return l.rdb.Close()
}

// Lease is a held lock. It is refreshed in the background until Release.
type Lease struct {
	lock   *redislock.Lock
	key    string
	stop   chan struct{}
	lost   chan struct{}
	done   sync.WaitGroup
	once   sync.Once
	logger *logrus.Entry
}

// Acquire takes key for ttl without waiting. A lock owned elsewhere yields ErrHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lk, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}

	lease := &Lease{
		lock:   lk,
		key:    key,
		stop:   make(chan struct{}),
		lost:   make(chan struct{}),
		logger: l.log.WithField("lock", key),
	}
	lease.done.Add(1)
	go lease.keepAlive(ttl)
	return lease, nil
}

func (le *Lease) keepAlive(ttl time.Duration) {
	defer le.done.Done()
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-le.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/2)
			err := le.lock.Refresh(ctx, ttl, nil)
			cancel()
			if err != nil {
				le.logger.WithError(err).Error("lock refresh failed")
				close(le.lost)
				return
			}
		}
	}
}

// Lost is closed when a refresh fails and the lock may have passed to
// another process.
func (le *Lease) Lost() <-chan struct{} {
	return le.lost
}

// Release stops refreshing and deletes the lock. It is safe to call twice.
func (le *Lease) Release(ctx context.Context) error {
	var err error
	le.once.Do(func() {
		close(le.stop)
		le.done.Wait()
		if rerr := le.lock.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			err = fmt.Errorf("release %s: %w", le.key, rerr)
		}
	})
	return err
}
