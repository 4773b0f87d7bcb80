package e2e

import (
	"context"
	"fmt"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	pgstore "github.com/nidhogg/vault-mind/internal/store"
)

// Package-level shared state set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("vaultmind_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}
