package storage

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options holds backend tunables. They are read from the environment since they
// rarely change between deployments.
type Options struct {
	PoolSize      int           `env:"STORAGE_POOL_SIZE"      envDefault:"10"`
	DialTimeout   time.Duration `env:"STORAGE_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout   time.Duration `env:"STORAGE_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout  time.Duration `env:"STORAGE_WRITE_TIMEOUT"  envDefault:"3s"`
	PostgresTable string        `env:"STORAGE_POSTGRES_TABLE" envDefault:"key_value_store"`
}

// DefaultOptions returns Options with the same values as the envDefault tags.
func DefaultOptions() Options {
	return Options{
		PoolSize:      10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		PostgresTable: "key_value_store",
	}
}

// LoadOptions loads Options from environment variables.
func LoadOptions() (Options, error) {
	opts, err := env.ParseAs[Options]()
	if err != nil {
		return Options{}, fmt.Errorf("failed to parse storage options: %w", err)
	}
	return opts, nil
}
