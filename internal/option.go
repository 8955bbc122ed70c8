package internal

import "github.com/docbroker/docbroker/internal/storage"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	store  storage.Provider
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithStorage overrides the storage backend selected by the configuration.
func WithStorage(store storage.Provider) Option {
	return func(a *application) {
		a.store = store
	}
}
