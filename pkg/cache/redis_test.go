package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-adp-assistant/pkg/config"
)

func TestOptionsAddress(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache.local", Port: 6380, DB: 2})
	assert.Equal(t, "cache.local:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
}

func TestNewRedisFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewRedis(ctx, config.RedisConfig{Host: "127.0.0.1", Port: 1})
	assert.Error(t, err)
}
