package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch deletes the lock only while it still holds our token, so a
// slow request never frees a lock re-acquired by a newer one.
const luaReleaseIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// CheckoutLocker hands out per-user checkout locks.
type CheckoutLocker struct {
	rdb rd.Cmdable
	ttl time.Duration
}

func NewCheckoutLocker(rdb rd.Cmdable, ttl time.Duration) *CheckoutLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CheckoutLocker{rdb: rdb, ttl: ttl}
}

// Acquire returns ok=false when another checkout for the user holds the lock.
// release is nil unless ok.
func (l *CheckoutLocker) Acquire(ctx context.Context, userID uint) (release func(), ok bool, err error) {
	key := CheckoutLockKey(userID)
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Eval(relCtx, luaReleaseIfMatch, []string{key}, token).Err()
	}, true, nil
}
