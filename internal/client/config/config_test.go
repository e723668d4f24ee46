package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:7000", c.ServerAddr)
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.False(t, c.Insecure)
}

func TestTLSConfig(t *testing.T) {
	t.Run("insecure", func(t *testing.T) {
		c := Config{Insecure: true}
		tc, err := c.TLSConfig()
		require.NoError(t, err)
		assert.Nil(t, tc)
	})

	t.Run("system roots", func(t *testing.T) {
		c := Config{ServerName: "storage.example.org"}
		tc, err := c.TLSConfig()
		require.NoError(t, err)
		require.NotNil(t, tc)
		assert.Nil(t, tc.RootCAs)
		assert.Equal(t, "storage.example.org", tc.ServerName)
	})

	t.Run("missing ca file", func(t *testing.T) {
		c := Config{CAFile: filepath.Join(t.TempDir(), "nope.pem")}
		_, err := c.TLSConfig()
		assert.Error(t, err)
	})

	t.Run("ca file without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))
		c := Config{CAFile: path}
		_, err := c.TLSConfig()
		assert.Error(t, err)
	})
}
