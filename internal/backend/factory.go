// Package backend selects the storage implementation from configuration.
package backend

import (
	"fmt"
	"log/slog"

	"hearth/internal/storage"
	"hearth/internal/storage/memory"
)

type Type string

const (
	SQLiteBackend Type = "sqlite"
	MemoryBackend Type = "memory"
)

func (t Type) IsValid() bool {
	return t == SQLiteBackend || t == MemoryBackend
}

type Config struct {
	Type         Type
	SQLiteDBPath string
}

// Open builds the configured Store.
func Open(cfg Config, logger *slog.Logger) (storage.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case SQLiteBackend:
		store, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		logger.Info("Initialized sqlite backend", "db_path", cfg.SQLiteDBPath)
		return store, nil
	case MemoryBackend:
		logger.Info("Initialized memory backend")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("invalid backend type: %s", cfg.Type)
	}
}
