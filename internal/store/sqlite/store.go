// Package sqlite implements store.StateStore on an embedded sqlite
// database (modernc.org/sqlite, no cgo). One kv table holds every bucket;
// values stay JSON so the file and sqlite backends are interchangeable.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rashmirrout/pilotdesk/internal/store"
)

// Store is the sqlite-backed state store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			bucket TEXT NOT NULL,
			key    TEXT NOT NULL,
			data   TEXT NOT NULL,
			PRIMARY KEY (bucket, key)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Put(bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (bucket, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET data = excluded.data`,
		bucket, key, string(data),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Get(bucket, key string, out any) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM kv WHERE bucket = ? AND key = ?`, bucket, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("parse %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) List(bucket string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE bucket = ? ORDER BY key`, bucket)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Delete(bucket, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE bucket = ? AND key = ?`, bucket, key)
	return err
}

func (s *Store) Close() error { return s.db.Close() }
