// Package database persists voting instances and guard records. Stores are
// selected by plugin name: memory, sqlite, postgres or badger.
package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cmwaters/verdict/voting"
	"github.com/rs/zerolog"
)

const (
	PluginMemory   = "memory"
	PluginSqlite   = "sqlite"
	PluginPostgres = "postgres"
	PluginBadger   = "badger"
)

// Plugins lists the supported store plugins.
var Plugins = []string{PluginMemory, PluginSqlite, PluginPostgres, PluginBadger}

type Config struct {
	Plugin string
	// DataDir holds the sqlite and badger files. Empty keeps them in memory.
	DataDir string
	// DSN is the postgres connection string.
	DSN    string
	Logger zerolog.Logger
}

// New opens the store selected by cfg.Plugin.
func New(cfg Config) (voting.Store, error) {
	switch cfg.Plugin {
	case PluginMemory, "":
		return NewMemoryStore(), nil
	case PluginSqlite:
		return NewSqliteStore(cfg.DataDir, cfg.Logger)
	case PluginPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres store needs a DSN")
		}
		return NewPostgresStore(cfg.DSN, cfg.Logger)
	case PluginBadger:
		return NewBadgerStore(cfg.DataDir, cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown store plugin %q", cfg.Plugin)
	}
}

func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return nil
}
