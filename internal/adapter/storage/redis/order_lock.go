package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"payment-settlement-core/pkg/apperror"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock key only when it still holds our token, so
// an expired-and-reacquired lock is never released by the previous holder.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLock implements ports.OrderLock with a Redis SET NX PX lock per order.
type OrderLock struct {
	client     *goredis.Client
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewOrderLock creates a new Redis-backed order lock.
func NewOrderLock(client *goredis.Client, ttl time.Duration, maxRetries int, retryDelay time.Duration, log zerolog.Logger) *OrderLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &OrderLock{
		client:     client,
		ttl:        ttl,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
	}
}

// WithLock runs fn while holding the exclusive lock for orderID. Acquisition
// retries with jittered backoff up to the configured attempt count and fails
// closed with a retryable lock-timeout error on exhaustion.
func (l *OrderLock) WithLock(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context) error) error {
	key := "orderlock:" + orderID.String()
	token, err := randomToken()
	if err != nil {
		return apperror.InternalError(fmt.Errorf("generate lock token: %w", err))
	}

	acquired := false
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperror.ErrLockTimeout(ctx.Err())
			case <-time.After(jitter(l.retryDelay)):
			}
		}

		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return apperror.InternalError(fmt.Errorf("acquire lock: %w", err))
		}
		if ok {
			acquired = true
			break
		}
	}
	if !acquired {
		return apperror.ErrLockTimeout(fmt.Errorf("lock %s contended after %d attempts", key, l.maxRetries))
	}

	defer func() {
		released, err := releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Int()
		if err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("failed to release order lock")
		} else if released == 0 {
			// TTL fired before we finished; the critical section exceeded the
			// lock lifetime.
			l.log.Warn().Str("key", key).Msg("order lock expired before release")
		}
	}()

	return fn(ctx)
}

// jitter spreads retries across [d/2, 3d/2) so contenders do not retry in
// lockstep.
func jitter(d time.Duration) time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return d
	}
	return d/2 + time.Duration(n.Int64())
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
