package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/shadow-ranch/pkg/timeutil"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("test")

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "No health checks registered", status.Message)

	c.AddCheck("database", NewPingCheck(pingFunc(func(context.Context) error { return nil })))
	c.AddOptionalCheck("token_metadata", NewPingCheck(pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready, "optional failures keep the service ready")
	assert.Equal(t, "Some checks failed: token_metadata", status.Message)
	assert.True(t, status.Checks["database"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["token_metadata"].Message)
	assert.True(t, status.Checks["token_metadata"].Optional)

	c.AddCheck("redis", NewPingCheck(pingFunc(func(context.Context) error { return errors.New("down") })))
	status = c.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: redis, token_metadata", status.Message)

	c.RemoveCheck("redis")
	c.RemoveCheck("token_metadata")
	status = c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Len(t, status.Checks, 1)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("test", WithCheckTimeout(20*time.Millisecond))
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestCompositeHealthChecker_UptimeFromClock(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	c := NewCompositeHealthChecker("v2", WithHealthClock(clock))
	c.AddCheck("database", func(context.Context) error { return nil })
	c.AddCheck("database", func(context.Context) error { return errors.New("replaced") })

	clock.Advance(90 * time.Second)
	status := c.Check(context.Background())
	assert.Equal(t, "1m30s", status.Uptime)
	assert.Equal(t, "v2", status.Version)
	assert.Len(t, status.Checks, 1)
	assert.False(t, status.Ready)
}
