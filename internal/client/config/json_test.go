package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func noneChanged(string) bool { return false }

func TestReadJson_AppliesPresentFields(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server":   "storage.example.org:7000",
		"insecure": true,
		"timeout":  "5s",
		"user":     "alice",
	})

	jc, err := ReadJson(path)
	require.NoError(t, err)

	var c Config
	c.LoadDefaults()
	c.CAFile = "/keep/me.pem"
	jc.ApplyTo(&c, noneChanged)

	assert.Equal(t, "storage.example.org:7000", c.ServerAddr)
	assert.True(t, c.Insecure)
	assert.Equal(t, 5*time.Second, c.Timeout)
	assert.Equal(t, "alice", c.User)
	assert.Equal(t, "/keep/me.pem", c.CAFile, "absent fields keep their value")
}

func TestReadJson_FlagsWin(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server": "from-file:7000",
		"user":   "bob",
	})
	jc, err := ReadJson(path)
	require.NoError(t, err)

	c := Config{ServerAddr: "from-flag:7000"}
	jc.ApplyTo(&c, func(name string) bool { return name == FlagServer })

	assert.Equal(t, "from-flag:7000", c.ServerAddr)
	assert.Equal(t, "bob", c.User)
}

func TestReadJson_Errors(t *testing.T) {
	_, err := ReadJson(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))
	_, err = ReadJson(path)
	assert.Error(t, err)

	path = writeTempJSON(t, map[string]any{"timeout": "soon"})
	_, err = ReadJson(path)
	assert.Error(t, err)
}
