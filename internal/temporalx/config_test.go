package temporalx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TEMPORAL_ADDRESS", "")
	t.Setenv("TEMPORAL_NAMESPACE", "")
	t.Setenv("TEMPORAL_TASK_QUEUE", "")
	t.Setenv("TEMPORAL_NAMESPACE_RETENTION_DAYS", "9000")
	cfg := LoadConfig()
	assert.Equal(t, "talkinghead", cfg.Namespace)
	assert.Equal(t, "talkinghead-generation", cfg.TaskQueue)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, 10*time.Second, cfg.EnsureTimeout)
	assert.False(t, cfg.TLSEnabled())
}

func TestDialDisabledWithoutAddress(t *testing.T) {
	c, err := Config{}.Dial(context.Background(), logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, Config{Namespace: "x"}.EnsureNamespace(context.Background(), logger.NewNop()))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, Backoff{}.Delay(1))
	assert.Equal(t, time.Second, Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}.Delay(3))
	assert.Equal(t, 5*time.Second, Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}.Delay(10))
	assert.Equal(t, 5*time.Second, Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}.Delay(1000))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	fast := Backoff{Base: time.Millisecond, Max: time.Millisecond}

	calls := 0
	err := retry(ctx, time.Second, fast, func(attempt int) (bool, error) {
		calls++
		if attempt < 3 {
			return true, errors.New("unavailable")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("permission denied")
	err = retry(ctx, time.Second, fast, func(int) (bool, error) {
		calls++
		return false, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	err = retry(ctx, 0, fast, func(int) (bool, error) { return true, errors.New("still down") })
	assert.EqualError(t, err, "still down")
}

func TestRetryableRPC(t *testing.T) {
	assert.True(t, retryableRPC(status.Error(codes.Unavailable, "down")))
	assert.False(t, retryableRPC(status.Error(codes.PermissionDenied, "no")))
	assert.True(t, retryableRPC(context.DeadlineExceeded))
}

func TestTLSConfigRequiresPair(t *testing.T) {
	_, err := Config{ClientCAPath: "/tmp/ca.pem"}.tlsConfig()
	assert.Error(t, err)
	_, err = Config{Address: "x:7233", ClientCAPath: "/tmp/ca.pem"}.options(logger.NewNop(), true)
	assert.Error(t, err)
}
