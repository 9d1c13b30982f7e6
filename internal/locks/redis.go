package locks

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLockTTL      = 10 * time.Second
	defaultRetryBackoff = 25 * time.Millisecond
	redisKeyPrefix      = "homering:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Client       *redis.Client
	TTL          time.Duration
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// RedisLocker is a Locker shared by every process that talks to the same Redis.
// Each lock is a SET NX key holding a random owner token and expiring after TTL.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(cfg RedisConfig) (*RedisLocker, error) {
	if cfg.Client == nil {
		return nil, errors.New("locks: redis client is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: cfg.Client, ttl: ttl, backoff: backoff, logger: logger}, nil
}

// NewRedisClient builds the go-redis client used by NewRedisLocker.
func NewRedisClient(address, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.ttl)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
