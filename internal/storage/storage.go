// Package storage holds the durable backends of the conversation log.
//
// Every backend keeps one record per committed message (id, role, content,
// timestamp, optional user id) and returns them ordered by timestamp.
// Backends are safe for concurrent use.
package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/chrismrutherford/mutt/internal/history"
)

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Store is a history.Store that owns resources released by Close.
type Store interface {
	history.Store
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver string
	// DSN is the connection string for postgres.
	DSN string
	// Path is the database or log file for sqlite, bolt and file.
	Path   string
	Logger *slog.Logger
}

// Open creates the backend named by opts.Driver.
func Open(opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch strings.ToLower(opts.Driver) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverFile:
		return NewFileStore(opts.Path)
	case DriverSQLite:
		return OpenSQLite(opts.Path, logger)
	case DriverPostgres:
		return OpenPostgres(opts.DSN, logger)
	case DriverBolt:
		return OpenBolt(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", opts.Driver)
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
