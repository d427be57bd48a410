// Package config decodes the token's configuration file into typed
// sections, the way cmd/config.go in the teacher repo builds its
// FDOServerConfig out of viper-bound, mapstructure-tagged structs.
package config

import (
	"errors"
	"fmt"
)

// LogConfig controls the devlog handler's verbosity.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig names the backing directories for the keystore's two
// durable tiers. Volatile is never configurable: it is always an
// in-memory filesystem, wiped on every restart.
type StoreConfig struct {
	InternalDir string `mapstructure:"internal_dir"`
	ExternalDir string `mapstructure:"external_dir"`
	AuditDBPath string `mapstructure:"audit_db_path"`
}

func (s *StoreConfig) validate() error {
	if s.InternalDir == "" {
		return errors.New("store.internal_dir is required")
	}
	if s.ExternalDir == "" {
		return errors.New("store.external_dir is required")
	}
	return nil
}

// HTTPConfig configures the development transport harness that stands
// in for the real USB HID/CCID/CDC and ISO-14443 links.
type HTTPConfig struct {
	IP   string `mapstructure:"ip"`
	Port string `mapstructure:"port"`
}

// ListenAddress returns the concatenated IP:Port address for listening.
func (h *HTTPConfig) ListenAddress() string {
	return h.IP + ":" + h.Port
}

func (h *HTTPConfig) validate() error {
	if h.IP == "" {
		return errors.New("http.ip is required")
	}
	if h.Port == "" {
		return errors.New("http.port is required")
	}
	return nil
}

// PIVConfig carries first-boot provisioning overrides for the PIV
// applet; a deployment that ships with the Yubico well-known defaults
// left in place accepts the zero value.
type PIVConfig struct {
	ManagementKeyHex string `mapstructure:"management_key_hex"`
	PIN              string `mapstructure:"pin"`
	PUK              string `mapstructure:"puk"`
}

// FIDOConfig carries first-boot provisioning overrides for the FIDO
// applet.
type FIDOConfig struct {
	AAGUIDHex string `mapstructure:"aaguid_hex"`
}

// Config holds the full contents of the configuration file.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Store StoreConfig `mapstructure:"store"`
	HTTP  HTTPConfig  `mapstructure:"http"`
	PIV   PIVConfig   `mapstructure:"piv"`
	FIDO  FIDOConfig  `mapstructure:"fido"`
}

// Validate enforces the required fields across every section once the
// config file and command-line flags have both been merged into it.
func (c *Config) Validate() error {
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := c.HTTP.validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}
