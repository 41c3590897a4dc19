package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates the username has no row.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists indicates the username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// DB wraps the SQLite database holding the credential list
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Credential is one row of the users table. Password is either a bcrypt
// hash or a plain password, as written by the operator.
type Credential struct {
	Username  string
	Password  string
	CreatedAt int64
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// SQLite allows a single writer; keep exactly one write connection
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("write connection: %w", err)
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func applyPragmas(conn *sql.DB) error {
	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
		{"PRAGMA synchronous = NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}
	return nil
}

func (db *DB) initSchema() error {
	_, err := db.writeConn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`)
	return err
}

// Close closes both connections
func (db *DB) Close() error {
	readErr := db.conn.Close()
	writeErr := db.writeConn.Close()
	return errors.Join(readErr, writeErr)
}

// CreateUser inserts a new user row
func (db *DB) CreateUser(username, password string) error {
	if strings.ContainsAny(username, " \t\r\n") || username == "" {
		return fmt.Errorf("invalid username %q", username)
	}

	_, err := db.writeConn.Exec(
		`INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)`,
		username, password, time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// SetPassword replaces the stored password of an existing user
func (db *DB) SetPassword(username, password string) error {
	res, err := db.writeConn.Exec(`UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return nil
}

// DeleteUser removes a user row
func (db *DB) DeleteUser(username string) error {
	res, err := db.writeConn.Exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return nil
}

// ListCredentials returns all users ordered by username
func (db *DB) ListCredentials() ([]Credential, error) {
	rows, err := db.conn.Query(`SELECT username, password, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Username, &c.Password, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
