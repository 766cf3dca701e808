package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements KV using MySQL.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQL creates a new MySQL store over an open connection pool.
func NewMySQL(db *sql.DB) (*MySQLStore, error) {
	if err := createMySQLSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

// NewMySQLFromDSN creates a new MySQL store from a DSN.
// The DSN format is: user:password@tcp(host:port)/database
func NewMySQLFromDSN(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn+"?parseTime=true")
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to connect: %w", err)
	}

	return NewMySQL(db)
}

func createMySQLSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		k          VARCHAR(255) PRIMARY KEY,
		v          MEDIUMTEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("mysql: failed to create schema: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *MySQLStore) Get(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("mysql: failed to get %q: %w", key, err)
	}
	return v, nil
}

// Set upserts value under key.
func (s *MySQLStore) Set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (k, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("mysql: failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *MySQLStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE k = ?", key); err != nil {
		return fmt.Errorf("mysql: failed to delete %q: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
