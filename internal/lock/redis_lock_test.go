package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquire_FailsOpenWhenRedisIsDown(t *testing.T) {
	rdb := NewRedisClient("127.0.0.1:1", "", 0)
	defer rdb.Close()
	l := NewRedisLock(rdb, "prayerflow:sweep:", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	release, ok := l.Acquire(ctx, "time_delay", time.Minute)
	assert.True(t, ok)
	assert.NotPanics(t, release)
	assert.Error(t, l.Ping(ctx))
}
