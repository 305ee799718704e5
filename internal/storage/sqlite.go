package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/cardsmith/internal/retrieval"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists chunk collections and the sync journal in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "cardsmith.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Collections ---

// SaveChunks appends chunks to collection, creating it if needed. Chunks
// keep their order after any already stored.
func (s *Store) SaveChunks(collection, embedModel string, chunks []retrieval.Chunk) error {
	if collection == "" {
		return errors.New("collection name is required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	dim := 0
	if len(chunks) > 0 {
		dim = len(chunks[0].Embedding)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO collections (name, embed_model, dimensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			updated_at = excluded.updated_at,
			embed_model = CASE WHEN collections.embed_model = '' THEN excluded.embed_model ELSE collections.embed_model END,
			dimensions = CASE WHEN collections.dimensions = 0 THEN excluded.dimensions ELSE collections.dimensions END`,
		collection, embedModel, dim, now, now,
	); err != nil {
		return fmt.Errorf("upserting collection: %w", err)
	}

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), -1) + 1 FROM chunks WHERE collection = ?`, collection).Scan(&next); err != nil {
		return fmt.Errorf("reading chunk sequence: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, collection, seq, text, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		md := c.Metadata
		if md == nil {
			md = map[string]string{}
		}
		mdJSON, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %s: %w", id, err)
		}
		if _, err := stmt.Exec(id, collection, next+i, c.Text, string(mdJSON), encodeFloat32s(c.Embedding), now); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// LoadChunks returns the chunks of collection in insertion order.
func (s *Store) LoadChunks(collection string) ([]retrieval.Chunk, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM collections WHERE name = ?`, collection).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.Query(`
		SELECT id, text, metadata, embedding FROM chunks
		WHERE collection = ? ORDER BY seq ASC`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []retrieval.Chunk
	for rows.Next() {
		var c retrieval.Chunk
		var mdJSON string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Text, &mdJSON, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mdJSON), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for chunk %s: %w", c.ID, err)
		}
		if c.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCollection removes collection and all of its chunks.
func (s *Store) DeleteCollection(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE collection = ?`, name); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM collections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListCollections returns every collection with its chunk count, by name.
func (s *Store) ListCollections() ([]Collection, error) {
	rows, err := s.db.Query(`
		SELECT c.name, c.embed_model, c.dimensions, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM chunks WHERE collection = c.name)
		FROM collections c ORDER BY c.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var createdAt, updatedAt string
		if err := rows.Scan(&c.Name, &c.EmbedModel, &c.Dimensions, &createdAt, &updatedAt, &c.Chunks); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Sync journal ---

func (s *Store) SaveSyncRun(r SyncRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encoding sync errors: %w", err)
	}
	pushed := 0
	if r.Pushed {
		pushed = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO sync_runs (id, user_id, source, created_at, submitted, kept, duplicates, pushed, succeeded, errors_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.User, r.Source, r.CreatedAt.UTC().Format(time.RFC3339),
		r.Submitted, r.Kept, r.Duplicates, pushed, r.Succeeded, string(errsJSON),
	)
	return err
}

// RecentSyncRuns returns up to limit runs for user, newest first.
func (s *Store) RecentSyncRuns(user string, limit int) ([]SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, source, created_at, submitted, kept, duplicates, pushed, succeeded, errors_json
		FROM sync_runs WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, user, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SyncRun
	for rows.Next() {
		var r SyncRun
		var createdAt, errsJSON string
		var pushed int
		if err := rows.Scan(&r.ID, &r.User, &r.Source, &createdAt, &r.Submitted, &r.Kept, &r.Duplicates, &pushed, &r.Succeeded, &errsJSON); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &r.Errors); err != nil {
			return nil, fmt.Errorf("decoding sync errors: %w", err)
		}
		r.Pushed = pushed == 1
		results = append(results, r)
	}
	return results, rows.Err()
}
