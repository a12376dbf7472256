package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/yegors/co-utm/pkg/logger"
)

// DB is the audit database holding command and conflict history and the
// airspace zones the detector is seeded from
type DB struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// Open opens (creating if needed) the SQLite database at dbPath
func Open(dbPath string, log *logger.Logger) (*DB, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, logger: storageLogger}, nil
}

// Close closes the database connection
func (s *DB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func initSchema(db *sqlx.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	statements := []struct {
		name string
		sql  string
	}{
		{"commands table", `
			CREATE TABLE IF NOT EXISTS commands (
				id TEXT PRIMARY KEY,
				drone_id TEXT NOT NULL,
				flight_id TEXT NOT NULL DEFAULT '',
				command_type TEXT NOT NULL,
				status TEXT NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL DEFAULT '',
				issued_at TIMESTAMP NOT NULL,
				acknowledged_at TIMESTAMP,
				completed_at TIMESTAMP,
				updated_at TIMESTAMP NOT NULL
			)`},
		{"commands drone index", `CREATE INDEX IF NOT EXISTS idx_commands_drone ON commands(drone_id, issued_at)`},
		{"conflicts table", `
			CREATE TABLE IF NOT EXISTS conflicts (
				id TEXT PRIMARY KEY,
				conflict_key TEXT NOT NULL,
				type TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				flight_ids TEXT NOT NULL,
				zone_id TEXT NOT NULL DEFAULT '',
				lat REAL NOT NULL,
				lon REAL NOT NULL,
				horizontal_distance_m REAL NOT NULL,
				vertical_distance_m REAL NOT NULL,
				detected_at TIMESTAMP NOT NULL,
				last_seen_at TIMESTAMP NOT NULL,
				acknowledged_at TIMESTAMP,
				resolved_at TIMESTAMP
			)`},
		{"conflicts detected index", `CREATE INDEX IF NOT EXISTS idx_conflicts_detected ON conflicts(detected_at)`},
		{"airspace_zones table", `
			CREATE TABLE IF NOT EXISTS airspace_zones (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				boundary TEXT NOT NULL,
				floor_m REAL NOT NULL,
				ceiling_m REAL NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`},
	}
	for _, st := range statements {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}
	return nil
}
