package config

import (
	"github.com/spf13/afero"

	"github.com/kgiusti/tokencore/internal/keystore"
)

// OpenStore constructs a keystore.Store backed by the configured
// internal/external directories on the real filesystem, plus an
// in-memory filesystem for the Volatile tier.
func (s *StoreConfig) OpenStore() (*keystore.Store, error) {
	internal := afero.NewBasePathFs(afero.NewOsFs(), s.InternalDir)
	external := afero.NewBasePathFs(afero.NewOsFs(), s.ExternalDir)
	volatile := afero.NewMemMapFs()

	for _, fs := range []afero.Fs{internal, external} {
		if err := fs.MkdirAll("/", 0o700); err != nil {
			return nil, err
		}
	}
	return keystore.New(internal, external, volatile), nil
}
