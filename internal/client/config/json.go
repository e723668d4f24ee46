package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Fides-Storage/Server-sub000/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish "absent" from zero values.
type JsonConfig struct {
	Server     *string         `json:"server"`
	CAFile     *string         `json:"ca_file"`
	ServerName *string         `json:"server_name"`
	Insecure   *bool           `json:"insecure"`
	Timeout    *timex.Duration `json:"timeout"`
	User       *string         `json:"user"`
}

// ReadJson loads a JSON config file.
func ReadJson(path string) (*JsonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &jc, nil
}

// ApplyTo copies the values present in jc into c, skipping every field whose
// flag was set explicitly.
func (jc *JsonConfig) ApplyTo(c *Config, changed func(flag string) bool) {
	if jc.Server != nil && !changed(FlagServer) {
		c.ServerAddr = *jc.Server
	}
	if jc.CAFile != nil && !changed(FlagCAFile) {
		c.CAFile = *jc.CAFile
	}
	if jc.ServerName != nil && !changed(FlagServerName) {
		c.ServerName = *jc.ServerName
	}
	if jc.Insecure != nil && !changed(FlagInsecure) {
		c.Insecure = *jc.Insecure
	}
	if jc.Timeout != nil && !changed(FlagTimeout) {
		c.Timeout = jc.Timeout.Duration
	}
	if jc.User != nil && !changed(FlagUser) {
		c.User = *jc.User
	}
}
