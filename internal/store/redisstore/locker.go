package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/suPer8Hu/carelink-support/internal/chat"
)

// Locker is the multi-instance chat.Locker: a redsync mutex per session key.
type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

var _ chat.Locker = (*Locker)(nil)

// NewLocker expiry must exceed the longest critical section, which includes
// an assisted reply round trip.
func NewLocker(s *Store, expiry time.Duration) *Locker {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &Locker{rs: redsync.New(goredis.NewPool(s.Client)), expiry: expiry}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the lock expires on its own if this fails
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = mutex.UnlockContext(uctx)
		})
	}, nil
}
