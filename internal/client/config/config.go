package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// Flag names shared by the CLI and the JSON overlay.
const (
	FlagServer     = "server"
	FlagCAFile     = "ca-file"
	FlagServerName = "server-name"
	FlagInsecure   = "insecure"
	FlagTimeout    = "timeout"
	FlagUser       = "user"
)

// Config holds runtime settings for the CLI.
type Config struct {
	ServerAddr string
	// CAFile is a PEM bundle used instead of the system roots.
	CAFile     string
	ServerName string
	// Insecure dials plain TCP. Only for servers started in insecure mode.
	Insecure bool
	Timeout  time.Duration
	User     string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:7000"
	c.Timeout = 30 * time.Second
}

// TLSConfig returns the client TLS settings, or nil in insecure mode.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.Insecure {
		return nil, nil
	}
	tc := &tls.Config{ServerName: c.ServerName, MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", c.CAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
