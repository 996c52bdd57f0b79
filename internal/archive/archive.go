// Package archive keeps rendered export documents in a SQLite file so earlier
// schema snapshots can be listed and printed again.
package archive

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for an unknown id
var ErrNotFound = errors.New("export not found")

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY,
	db_name    TEXT NOT NULL,
	format     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	document   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS export_tables (
	export_id TEXT NOT NULL REFERENCES exports(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	PRIMARY KEY (export_id, position)
)`

// Entry is one archived export
type Entry struct {
	ID        string
	Database  string
	Tables    []string
	Format    string
	CreatedAt time.Time
	Document  string
}

// Store is a SQLite backed export archive
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path. Foreign keys are enabled on
// every pooled connection through the DSN.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open archive")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create archive schema")
	}

	return &Store{db: db}, nil
}

// Close closes the archive
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores entry, assigning an id and timestamp when they are unset
func (s *Store) Save(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO exports (id, db_name, format, created_at, document) VALUES (?, ?, ?, ?, ?)",
		entry.ID,
		entry.Database,
		entry.Format,
		entry.CreatedAt,
		entry.Document,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save export %s", entry.ID)
	}

	for i, table := range entry.Tables {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO export_tables (export_id, position, name) VALUES (?, ?, ?)",
			entry.ID, i, table,
		); err != nil {
			return errors.Wrapf(err, "failed to save table %s of export %s", table, entry.ID)
		}
	}

	return tx.Commit()
}

// List returns the most recent entries first, without their documents.
// A limit of zero or less returns every entry.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := "SELECT id, db_name, format, created_at FROM exports ORDER BY created_at DESC, id"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list exports")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.Database, &entry.Format, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range entries {
		if entries[i].Tables, err = s.tables(ctx, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Get returns the entry with the given id, document included
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var entry Entry

	err := s.db.QueryRowContext(ctx,
		"SELECT id, db_name, format, created_at, document FROM exports WHERE id = ?", id,
	).Scan(&entry.ID, &entry.Database, &entry.Format, &entry.CreatedAt, &entry.Document)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read export %s", id)
	}

	if entry.Tables, err = s.tables(ctx, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) tables(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM export_tables WHERE export_id = ? ORDER BY position", id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tables of export %s", id)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
