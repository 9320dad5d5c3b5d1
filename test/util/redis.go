// Package util provides shared helpers for integration tests.
package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// Shared connection URL for all tests in local dev
	sharedRedisURL string
	redisOnce      sync.Once
	redisErr       error
)

// SetupTestRedis returns a connection URL for a Redis server with the search
// and JSON modules loaded, flushed clean for this test.
// - CI: connects to an external redis-stack service via CI_REDIS_URL
// - Local: uses a shared testcontainer (started once per package)
// Tests within a package run sequentially, so a flush per test is safe.
func SetupTestRedis(t *testing.T) string {
	url := getOrCreateSharedRedis(t)

	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	defer client.Close()
	require.NoError(t, client.FlushAll(context.Background()).Err())

	return url
}

// getOrCreateSharedRedis returns a connection URL to the shared server.
// In CI, uses CI_REDIS_URL. In local dev, creates a shared testcontainer once.
func getOrCreateSharedRedis(t *testing.T) string {
	if ciRedisURL := os.Getenv("CI_REDIS_URL"); ciRedisURL != "" {
		t.Log("Using external Redis from CI_REDIS_URL")
		return ciRedisURL
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared redis-stack testcontainer for all tests")

		container, err := tcredis.Run(ctx,
			"redis/redis-stack-server:7.4.0-v3",
			testcontainers.WithWaitStrategy(
				wait.ForLog("Ready to accept connections").
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			redisErr = fmt.Errorf("failed to start redis container: %w", err)
			return
		}

		url, err := container.ConnectionString(ctx)
		if err != nil {
			redisErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}

		sharedRedisURL = url
		t.Logf("Shared container ready: %s", sharedRedisURL)
	})

	require.NoError(t, redisErr, "Failed to setup shared test container")
	return sharedRedisURL
}
