// Package testutil starts disposable backing services for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RequireDocker skips integration tests in short mode or when no Docker
// daemon is reachable outside CI.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		t.Skip("Docker not available")
	}
}

// StartPostgres runs a PostgreSQL container and returns its DSN.
func StartPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orchestrator_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/orchestrator_test?sslmode=disable", host, port.Port())
}

// StartRedis runs a Redis container and returns its host:port address.
func StartRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return strings.TrimPrefix(uri, "redis://")
}

// StartMongo runs a MongoDB container and returns its connection URI.
func StartMongo(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
