package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteEngine stores the collection in a single SQLite database.
//
// Tables:
//
//	documents(key, data)  PRIMARY KEY (key)
//
// Read-modify-write runs in BEGIN IMMEDIATE transactions so handles in
// other processes serialize on the database write lock.
type SqliteEngine struct {
	db *sql.DB
}

func NewSqliteEngine(dbPath string, busyTimeout time.Duration) (*SqliteEngine, error) {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	db, err := sql.Open("sqlite3", dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}
	// Touching the schema is what surfaces "file is not a database".
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		key TEXT NOT NULL PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, dbPath, err)
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, dbPath, err)
	}
	return &SqliteEngine{db: db}, nil
}

func (s *SqliteEngine) Close() error {
	return s.db.Close()
}

func (s *SqliteEngine) Get(key string) ([]byte, bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT data FROM documents WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ioErr(err)
	}
	return []byte(raw), true, nil
}

func (s *SqliteEngine) Put(key string, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO documents (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
		key, string(data),
	)
	return ioErr(err)
}

func (s *SqliteEngine) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM documents WHERE key = ?", key)
	return ioErr(err)
}

func (s *SqliteEngine) Update(key string, fn func([]byte, bool) ([]byte, error)) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioErr(err)
	}
	defer tx.Rollback()

	var (
		old   []byte
		found bool
		raw   string
	)
	err = tx.QueryRow("SELECT data FROM documents WHERE key = ?", key).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return ioErr(err)
	default:
		old, found = []byte(raw), true
	}

	data, err := fn(old, found)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO documents (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
		key, string(data),
	); err != nil {
		return ioErr(err)
	}
	return ioErr(tx.Commit())
}

func (s *SqliteEngine) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, ioErr(err)
	}
	return n, nil
}

// Iterate runs a single SELECT, which SQLite evaluates against one read
// snapshot of the database.
func (s *SqliteEngine) Iterate(keysOnly bool, fn func(string, []byte) error) error {
	query := "SELECT key, data FROM documents ORDER BY key"
	if keysOnly {
		query = "SELECT key, NULL FROM documents ORDER BY key"
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return ioErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			raw sql.NullString
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return ioErr(err)
		}
		var data []byte
		if raw.Valid {
			data = []byte(raw.String)
		}
		if err := fn(key, data); err != nil {
			return stopped(err)
		}
	}
	return ioErr(rows.Err())
}

// ioErr tags driver failures as ErrStorageIO and maps a closed pool to
// ErrClosed.
func ioErr(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	if errors.Is(err, ErrStorageIO) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageIO, err)
}
