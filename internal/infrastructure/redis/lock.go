package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner token may delete the key.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out per-payment locks shared by every API instance. Locks
// expire after ttl so a crashed holder cannot wedge a payment.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewLocker(client redis.Cmdable, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, prefix: "lock:payment:"}
}

// TryLock takes the lock for key without waiting. ok is false when another
// holder has it. The returned func releases the lock and is safe to call
// after expiry.
func (l *Locker) TryLock(ctx context.Context, key string) (release func(), ok bool, err error) {
	k := l.prefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", k, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release = func() {
		// Detached so a cancelled request still frees the lock.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(ctx, l.client, []string{k}, token).Err()
	}
	return release, true, nil
}
