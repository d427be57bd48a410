package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kgiusti/tokencore/internal/config"
)

// loadConfig reads the config file (if any) bound under --config, then
// layers the root's --internal-dir/--external-dir/--http flags over
// whatever the file specified, mirroring rootCmdLoadConfig's
// file-then-flags precedence in the teacher's cmd/root.go.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := bindPersistentFlags(cmd); err != nil {
		return nil, err
	}
	if err := loadConfigFile(cmd); err != nil {
		return nil, fmt.Errorf("configuration file read failed: %w", err)
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("configuration decode failed: %w", err)
	}

	if v := viper.GetString("internal-dir"); v != "" {
		cfg.Store.InternalDir = v
	}
	if v := viper.GetString("external-dir"); v != "" {
		cfg.Store.ExternalDir = v
	}
	if v := viper.GetString("http"); v != "" {
		ip, port, err := splitHostPort(v)
		if err != nil {
			return nil, err
		}
		cfg.HTTP.IP, cfg.HTTP.Port = ip, port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitHostPort(addr string) (host, port string, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid listen address %q, expected host:port", addr)
}
