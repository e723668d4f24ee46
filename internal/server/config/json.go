package config

import (
	"encoding/json"
	"os"

	"github.com/Fides-Storage/Server-sub000/internal/flagx"
	"github.com/Fides-Storage/Server-sub000/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration and sizes are human strings ("100MiB"). Absent fields keep
// the value they had before the file was applied.
type JsonConfig struct {
	ListenAddr     *string         `json:"listen_addr"`
	HealthAddrGRPC *string         `json:"health_addr_grpc"`
	TLSCertFile    *string         `json:"tls_cert_file"`
	TLSKeyFile     *string         `json:"tls_key_file"`
	Insecure       *bool           `json:"insecure"`
	LogLevel       *string         `json:"log_level"`
	StorageRoot    *string         `json:"storage_root"`
	BlobBackend    *string         `json:"blob_backend"`
	LedgerBackend  *string         `json:"ledger_backend"`
	DatabaseDSN    *string         `json:"database_dsn"`
	DefaultQuota   *string         `json:"default_quota"`
	ChunkSize      *string         `json:"chunk_size"`
	MaxFrameSize   *string         `json:"max_frame_size"`
	IdleTimeout    *timex.Duration `json:"idle_timeout"`
	ExpiryHorizon  *timex.Duration `json:"expiry_horizon"`
	SweepInterval  *timex.Duration `json:"sweep_interval"`
	S3RootUser     *string         `json:"s3_root_user"`
	S3RootPassword *string         `json:"s3_root_password"`
	S3Bucket       *string         `json:"s3_bucket"`
	S3Region       *string         `json:"s3_region"`
	S3BaseEndpoint *string         `json:"s3_base_endpoint"`
	S3Prefix       *string         `json:"s3_prefix"`
}

// parseJson overlays the file named by -c/-config (or $FIDES_CONFIG) onto
// config. A missing flag means no file. An unreadable or invalid file panics,
// the same way a bad flag does.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}
	if err := c.apply(config); err != nil {
		panic(err)
	}
}

func (c *JsonConfig) apply(config *Config) error {
	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.TLSCertFile, c.TLSCertFile)
	setString(&config.TLSKeyFile, c.TLSKeyFile)
	if c.Insecure != nil {
		config.Insecure = *c.Insecure
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.StorageRoot, c.StorageRoot)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.LedgerBackend, c.LedgerBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	if err := setSize(&config.DefaultQuota, c.DefaultQuota); err != nil {
		return err
	}
	if err := setSize(&config.ChunkSize, c.ChunkSize); err != nil {
		return err
	}
	if err := setSize(&config.MaxFrameSize, c.MaxFrameSize); err != nil {
		return err
	}
	if c.IdleTimeout != nil {
		config.IdleTimeout = c.IdleTimeout.Duration
	}
	if c.ExpiryHorizon != nil {
		config.ExpiryHorizon = c.ExpiryHorizon.Duration
	}
	if c.SweepInterval != nil {
		config.SweepInterval = c.SweepInterval.Duration
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setSize(dst *int64, v *string) error {
	if v == nil {
		return nil
	}
	n, err := ParseSize(*v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
