package common

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/engines/boltdb"
	"github.com/ValentinKolb/hkv/lib/db/engines/maple"
	"github.com/ValentinKolb/hkv/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Store configuration struct
// --------------------------------------------------------------------------

// StoreConfig holds everything needed to open a store
type StoreConfig struct {
	// Engine is the substrate implementation (maple, pebble, bolt)
	Engine db.Implementation
	// DataDir is where persistent engines keep their files. Ignored by maple.
	DataDir string
	// NoSync disables fsync on commit for persistent engines
	NoSync bool

	// MaxKeyLength is the exclusive upper bound for collection key lengths
	MaxKeyLength int
	// GCInterval is the period of the background ttl sweep. Negative disables it.
	GCInterval time.Duration

	// LogLevel is one of debug, info, warn, error
	LogLevel string
}

// DefaultStoreConfig returns the configuration used when nothing is set
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Engine:       db.ImplPebble,
		DataDir:      "data",
		MaxKeyLength: store.DefaultMaxKeyLength,
		GCInterval:   10 * time.Second,
		LogLevel:     "info",
	}
}

// Validate checks the configuration for invalid values
func (c *StoreConfig) Validate() error {
	switch c.Engine {
	case db.ImplMaple:
	case db.ImplPebble, db.ImplBolt:
		if c.DataDir == "" {
			return fmt.Errorf("engine %s requires a data dir", c.Engine)
		}
	default:
		return fmt.Errorf("invalid engine %q (expected one of: maple, pebble, bolt)", c.Engine)
	}
	if c.MaxKeyLength < 2 {
		return fmt.Errorf("max key length must be at least 2, got %d", c.MaxKeyLength)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ToDBFactory converts the configuration into a factory for its substrate
func (c *StoreConfig) ToDBFactory() store.DBFactory {
	cfg := *c
	return func() (db.KVDB, error) {
		switch cfg.Engine {
		case db.ImplMaple:
			return maple.NewMapleDB(&maple.DBOptions{GCInterval: cfg.GCInterval}), nil
		case db.ImplPebble:
			return pebbledb.NewPebbleDB(&pebbledb.Options{
				Dir:        filepath.Join(cfg.DataDir, "pebble"),
				Sync:       !cfg.NoSync,
				GCInterval: cfg.GCInterval,
			})
		case db.ImplBolt:
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, err
			}
			return boltdb.NewBoltDB(&boltdb.Options{
				Path:       filepath.Join(cfg.DataDir, "hkv.bolt"),
				NoSync:     cfg.NoSync,
				GCInterval: cfg.GCInterval,
			})
		default:
			return nil, fmt.Errorf("invalid engine %q", cfg.Engine)
		}
	}
}
