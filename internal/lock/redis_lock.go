package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a best-effort cross-process mutex for periodic sweeps
type RedisLock struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisClient creates the Redis client used for sweep locks
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisLock creates a lock manager storing keys under prefix
func NewRedisLock(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLock{rdb: rdb, prefix: prefix, logger: logger}
}

// Acquire tries to take the named lock for ttl. When Redis is unreachable it
// fails open and reports the lock as held, because every sweep is idempotent
// on its own. The returned release func is always safe to call.
func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		l.logger.Warn("Sweep lock unavailable, proceeding without it",
			zap.String("lock", key),
			zap.Error(err),
		)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release sweep lock", zap.String("lock", key), zap.Error(err))
		}
	}, true
}

// Ping reports Redis connectivity
func (l *RedisLock) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
