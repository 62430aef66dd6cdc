package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/repo/postgres"
	"github.com/weatherflick/weather-flick-batch/internal/config"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	cfg := config.Config{
		DBHost: "bad host", // space makes the URL unparseable
		DBPort: 5432,
		DBUser: "postgres",
		DBName: "weather_flick",
	}
	_, err := postgres.NewPool(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=postgres.parse_config")
}
