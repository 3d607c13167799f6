package persistence

import (
	"context"
	"fmt"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Database is a sqlite handle shared by all stores of the application, with the lock
// serializing access to it
type Database struct {
	db *sqlx.DB
	mu sync.Mutex
}

// OpenDatabase opens (or creates) the sqlite database file, enables WAL mode and limits the pool
// to a single connection
func OpenDatabase(dbPath string) (*Database, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to configure database with %q: %w (also failed to close db: %v)", p, err, closeErr)
			}
			return nil, fmt.Errorf("failed to configure database with %q: %w", p, err)
		}
	}

	return &Database{db: db}, nil
}

// NewDatabase wraps an already opened connection supplied by the host application
func NewDatabase(db *sqlx.DB) *Database {
	return &Database{db: db}
}

// InTx runs fn in a transaction while holding the database lock. Any error from fn rolls
// the transaction back before the lock is released, the error is returned as is.
// The lock is not reentrant, fn must not call other InTx users.
func (d *Database) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[WARN] failed to rollback transaction: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}
