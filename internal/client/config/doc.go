// Package config loads runtime configuration for the Fides storage CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file given with --config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "30s"
// or integer nanoseconds:
//
//	{
//	  "server": "storage.example.org:7000",
//	  "ca_file": "/etc/fides/ca.pem",
//	  "server_name": "storage.example.org",
//	  "insecure": false,
//	  "timeout": "30s",
//	  "user": "alice"
//	}
package config
