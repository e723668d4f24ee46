package config

import (
	"flag"
	"os"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/flagx"
)

// parseFlags overlays command-line flags onto config.
//
// Supported flags:
//
//	-a string   listen address for client connections (e.g. ":7000")
//	-g string   gRPC health endpoint address
//	-cert file  TLS certificate (PEM)
//	-key file   TLS private key (PEM)
//	-insecure   serve plain TCP (development only)
//	-l string   log level
//	-r dir      storage root
//	-blobs name blob backend: disk or s3
//	-ledger name ledger and lock backend: disk or postgres
//	-d string   PostgreSQL DSN
//	-q size     default per-account quota (e.g. "100MiB")
//	-x int      expiry horizon, days
//	-i duration sweep interval
//	-t duration idle timeout
//	-u, -p, -b, -region, -e, -prefix   S3 settings
//
// Only these flags are parsed; os.Args is filtered first so the JSON config
// flag and any foreign flags do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-cert", "-key", "-insecure", "-l", "-r", "-blobs", "-ledger", "-d",
		"-q", "-x", "-i", "-t", "-u", "-p", "-b", "-region", "-e", "-prefix",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to accept clients on")
	fs.StringVar(&config.HealthAddrGRPC, "g", config.HealthAddrGRPC, "gRPC health endpoint address")
	fs.StringVar(&config.TLSCertFile, "cert", config.TLSCertFile, "TLS certificate file")
	fs.StringVar(&config.TLSKeyFile, "key", config.TLSKeyFile, "TLS key file")
	fs.BoolVar(&config.Insecure, "insecure", config.Insecure, "serve without TLS")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root directory")
	fs.StringVar(&config.BlobBackend, "blobs", config.BlobBackend, "blob backend (disk|s3)")
	fs.StringVar(&config.LedgerBackend, "ledger", config.LedgerBackend, "ledger backend (disk|postgres)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	quota := fs.String("q", "", "default quota per account (default "+FormatSize(config.DefaultQuota)+")")
	expiryDays := fs.Int("x", 0, "expiry horizon (in days)")
	fs.DurationVar(&config.SweepInterval, "i", config.SweepInterval, "retention sweep interval")
	fs.DurationVar(&config.IdleTimeout, "t", config.IdleTimeout, "session idle timeout")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "prefix", config.S3Prefix, "S3 key prefix")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *quota != "" {
		n, err := ParseSize(*quota)
		if err != nil {
			panic(err)
		}
		config.DefaultQuota = n
	}
	if *expiryDays > 0 {
		config.ExpiryHorizon = time.Duration(*expiryDays) * 24 * time.Hour
	}
}
