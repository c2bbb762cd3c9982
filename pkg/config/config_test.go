package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV(t *testing.T) {
	assert.Nil(t, CSV(""))
	assert.Equal(t, []string{"a:9092", "b:9092"}, CSV(" a:9092, ,b:9092 "))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("POS_TEST_INT", "42")
	t.Setenv("POS_TEST_BAD_INT", "x")
	t.Setenv("POS_TEST_BOOL", "false")
	t.Setenv("POS_TEST_DUR", "1500ms")
	t.Setenv("POS_TEST_DUR_SECONDS", "7")
	t.Setenv("POS_TEST_FLOAT", "2.5")

	assert.Equal(t, 42, EnvIntDefault("POS_TEST_INT", 1))
	assert.Equal(t, 1, EnvIntDefault("POS_TEST_BAD_INT", 1))
	assert.False(t, EnvBoolDefault("POS_TEST_BOOL", true))
	assert.True(t, EnvBoolDefault("POS_TEST_MISSING", true))
	assert.Equal(t, 1500*time.Millisecond, EnvDurationDefault("POS_TEST_DUR", time.Second))
	assert.Equal(t, 7*time.Second, EnvDurationDefault("POS_TEST_DUR_SECONDS", time.Second))
	assert.Equal(t, 2.5, EnvFloatDefault("POS_TEST_FLOAT", 0))
	assert.Equal(t, "def", EnvDefault("POS_TEST_MISSING", "def"))
}

func TestRequireOneOf(t *testing.T) {
	require.NoError(t, RequireOneOf("sqlite", "STORAGE_DRIVER", "sqlite", "redis"))
	require.Error(t, RequireOneOf("mysql", "STORAGE_DRIVER", "sqlite", "redis"))
}

func TestRequireNonEmpty(t *testing.T) {
	require.NoError(t, RequireNonEmpty("redis://localhost:6379", "REDIS_URL"))
	assert.EqualError(t, RequireNonEmpty("", "REDIS_URL"), "missing required env REDIS_URL")
}
