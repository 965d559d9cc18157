package registry_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/mcp-proxy/internal/registry"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, registry.Validate("fs-server_1.0"))
	assert.Error(t, registry.Validate("fs server"))
	assert.Error(t, registry.Validate("fs/server"))
}

func TestNewRejectsInvalidName(t *testing.T) {
	_, err := registry.New(map[string]registry.Entry{
		"bad name": {Command: "true"},
	})
	assert.Error(t, err)
}

func TestLookupSkipsDisabled(t *testing.T) {
	disabled := false
	r, err := registry.New(map[string]registry.Entry{
		"fs":   {Command: "fs-server"},
		"gone": {Command: "gone-server", Enabled: &disabled},
	})
	require.NoError(t, err)

	_, ok := r.Lookup("fs")
	assert.True(t, ok)

	_, ok = r.Lookup("gone")
	assert.False(t, ok)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"fs"}, r.Names())
}

func TestSpawnPrecedence(t *testing.T) {
	entry := registry.Entry{
		Command:     "fs-server",
		Args:        []string{"--root", "/data"},
		Env:         map[string]string{"MODE": "static", "FROM_STATIC": "1"},
		HeaderToEnv: map[string]string{"X-Api-Key": "MODE"},
		PassEnviron: true,
	}

	header := http.Header{}
	header.Set("X-Api-Key", "from-header")

	spawn := entry.Spawn(header, []string{"MODE=from-parent", "PATH=/usr/bin"})

	assertHasEnv(t, spawn.Env, "FROM_STATIC", "1")
	assertHasEnv(t, spawn.Env, "PATH", "/usr/bin")
	// parent_env is last in append order and wins on conflict, per the
	// Spawn Descriptor's documented precedence.
	assertHasEnv(t, spawn.Env, "MODE", "from-parent")
}

func TestSpawnWithoutPassEnvironIgnoresParent(t *testing.T) {
	entry := registry.Entry{
		Command: "fs-server",
		Env:     map[string]string{"MODE": "static"},
	}
	spawn := entry.Spawn(nil, []string{"MODE=from-parent"})
	assertHasEnv(t, spawn.Env, "MODE", "static")
}

func assertHasEnv(t *testing.T, env []string, key, want string) {
	t.Helper()
	var last string
	found := false
	for _, kv := range env {
		if len(kv) > len(key) && kv[:len(key)+1] == key+"=" {
			last = kv[len(key)+1:]
			found = true
		}
	}
	require.True(t, found, "env var %s not found in %v", key, env)
	assert.Equal(t, want, last)
}
