package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetBoolEnv(t *testing.T) {
	t.Setenv("VOLANTIR_TEST_BOOL", "true")
	assert.True(t, GetBoolEnv("VOLANTIR_TEST_BOOL", false))

	t.Setenv("VOLANTIR_TEST_BOOL", "nope")
	assert.True(t, GetBoolEnv("VOLANTIR_TEST_BOOL", true)) // unparsable falls back

	assert.False(t, GetBoolEnv("VOLANTIR_TEST_BOOL_UNSET", false))
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("VOLANTIR_TEST_INT", "42")
	assert.Equal(t, 42, GetIntEnv("VOLANTIR_TEST_INT", 7))

	t.Setenv("VOLANTIR_TEST_INT", "forty-two")
	assert.Equal(t, 7, GetIntEnv("VOLANTIR_TEST_INT", 7))
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("VOLANTIR_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, GetDurationEnv("VOLANTIR_TEST_DUR", time.Minute))

	assert.Equal(t, time.Minute, GetDurationEnv("VOLANTIR_TEST_DUR_UNSET", time.Minute))
}
