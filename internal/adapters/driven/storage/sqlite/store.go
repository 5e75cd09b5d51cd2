// Package sqlite implements the store on a single-file SQLite database:
// entity tables, an FTS5 lexical index kept in sync by triggers, packed
// float32 vectors scanned for cosine similarity, and a causal change log.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/passage/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/passage/internal/core/domain"
	"github.com/custodia-labs/passage/internal/core/ports/driven"
)

// Ensure Store implements the port.
var _ driven.Store = (*Store)(nil)

// Default configuration values.
const (
	DefaultPoolSize      = 8
	DefaultBusyTimeoutMS = 5000
	dbFileName           = "passage.db"
)

// Config holds store configuration.
type Config struct {
	// DataDir is the directory for the database file. Defaults to
	// ~/.passage/data.
	DataDir string

	// NodeID identifies this node in causal timestamps.
	NodeID uint16

	// Dimension is the embedding vector width, fixed at store creation.
	Dimension int

	// ModelID tags which embedding model produced the vectors.
	ModelID string

	// PoolSize bounds concurrent read connections (default 8).
	PoolSize int

	// BusyTimeoutMS is the engine lock acquisition timeout (default 5000).
	BusyTimeoutMS int
}

// Store is the SQLite-backed implementation of the store port.
// Writers serialize through an in-process mutex on top of the engine
// write lock; readers share the connection pool and see WAL snapshots.
type Store struct {
	db        *sql.DB
	path      string
	clock     *domain.Clock
	dimension int
	modelID   string

	// writerMu serializes all mutating transactions.
	writerMu sync.Mutex
}

// NewStore opens or creates a store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, domain.ErrInvalidArgument("store dimension must be positive")
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".passage", "data")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = DefaultBusyTimeoutMS
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, dbFileName)

	dsn := dbPath + "?" + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeoutMS),
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=cache_size(-65536)",
		"_pragma=mmap_size(268435456)",
	}, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	s := &Store{
		db:        db,
		path:      dbPath,
		clock:     domain.NewClock(cfg.NodeID),
		dimension: cfg.Dimension,
		modelID:   cfg.ModelID,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.initMeta(); err != nil {
		db.Close()
		return nil, err
	}

	// Resume the clock past everything already committed so restarts
	// never issue regressing timestamps.
	if wm, err := s.Watermark(context.Background()); err == nil && !wm.IsZero() {
		s.clock.Observe(wm)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Clock exposes the store clock for the replication collaborator.
func (s *Store) Clock() *domain.Clock {
	return s.clock
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// initMeta records the embedding dimension and model id on first open and
// verifies them afterwards; vectors of mixed width are unsearchable.
func (s *Store) initMeta() error {
	var stored string
	err := s.db.QueryRow("SELECT value FROM store_meta WHERE key = 'dimension'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(
			"INSERT INTO store_meta (key, value) VALUES ('dimension', ?), ('model_id', ?)",
			fmt.Sprint(s.dimension), s.modelID,
		); err != nil {
			return domain.ErrDatabase(err)
		}
		return nil
	case err != nil:
		return domain.ErrDatabase(err)
	}

	if stored != fmt.Sprint(s.dimension) {
		return domain.ErrInvalidArgument(fmt.Sprintf(
			"store created with dimension %s, embedder declares %d", stored, s.dimension))
	}
	return nil
}

// withWriteTx runs fn inside the single-writer transaction, handing it
// the causal timestamp for this mutation.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx, hlc domain.HLC) error) error {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrDatabase(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx, s.clock.Tick()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrDatabase(err)
	}
	return nil
}

// appendChange writes a change log entry inside the caller's transaction.
func appendChange(tx *sql.Tx, change domain.Change) error {
	entry, err := change.Encode()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO sync_log (hlc, entry) VALUES (?, ?)",
		change.HLC.Bytes(), string(entry),
	); err != nil {
		return domain.ErrDatabase(err)
	}
	return nil
}

// isUniqueViolation matches the engine's constraint failure text for the
// given constraint target.
func isUniqueViolation(err error, target string) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), target)
}

// isForeignKeyViolation matches the engine's FK failure text.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// vectorToBytes packs a float32 vector little-endian for storage.
func vectorToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToVector unpacks a little-endian float32 vector.
func bytesToVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// marshalJSON serializes metadata maps and settings for TEXT columns.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", domain.ErrInternal("marshalling json column", err)
	}
	return string(b), nil
}
