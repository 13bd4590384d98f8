package services_test

import (
	"context"
	"net"
	"testing"

	"github.com/localnerve/doctypesdb/internal/config"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := &config.Config{DBType: "sqlite", DBDatabase: "test"}

	result := services.HealthCheck(context.Background(), cfg, db, nil)
	assert.Equal(t, "healthy", result.Status)
	assert.Equal(t, "ok", result.Database)
	assert.Equal(t, "disabled", result.Redis)
}

func TestHealthCheckRedisUnreachable(t *testing.T) {
	db := testutil.NewDB(t)

	// Reserve a port, then close it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())

	cfg := &config.Config{DBType: "sqlite", DBDatabase: "test", RedisHost: "127.0.0.1", RedisPort: port}
	result := services.HealthCheck(context.Background(), cfg, db, nil)
	assert.Equal(t, "unhealthy", result.Status)
	assert.Equal(t, "unreachable", result.Redis)
	assert.Contains(t, result.Details, "redis_error")
}
