package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SFU_TEST_INT", "42")
	t.Setenv("SFU_TEST_BAD_INT", "forty")
	t.Setenv("SFU_TEST_BOOL", "true")
	t.Setenv("SFU_TEST_DUR", "250ms")
	t.Setenv("SFU_TEST_SECS", "3")
	t.Setenv("SFU_TEST_STR", "  r1 ")

	assert.Equal(t, 42, GetIntOrDefault("SFU_TEST_INT", 1))
	assert.Equal(t, 1, GetIntOrDefault("SFU_TEST_BAD_INT", 1))
	assert.Equal(t, 7, GetIntOrDefault("SFU_TEST_MISSING", 7))
	assert.Equal(t, int64(42), GetIntEnv("SFU_TEST_INT"))
	assert.True(t, GetBoolOrDefault("SFU_TEST_BOOL", false))
	assert.Equal(t, 250*time.Millisecond, GetDurationOrDefault("SFU_TEST_DUR", time.Second))
	assert.Equal(t, 3*time.Second, GetDurationOrDefault("SFU_TEST_SECS", time.Second))
	assert.Equal(t, "r1", GetStringOrDefault("SFU_TEST_STR", "x"))
	assert.Equal(t, "x", GetStringOrDefault("SFU_TEST_MISSING", "x"))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	assert.Error(t, LoadEnv("test"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte("SFU_FROM_FILE=yes\n"), 0o600))
	os.Unsetenv("SFU_FROM_FILE")
	defer os.Unsetenv("SFU_FROM_FILE")

	require.NoError(t, LoadEnv("test"))
	assert.Equal(t, "yes", GetEnv("SFU_FROM_FILE"))
}

func TestIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewPeerID()
		assert.Len(t, id, 20)
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, NewObjectID(), 36)
	assert.NotEqual(t, NewObjectID(), NewObjectID())
}
