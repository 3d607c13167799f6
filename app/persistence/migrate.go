package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable tracks applied migrations. The database file is shared with the host
// application, so the name is scoped to this store.
const migrationsTable = "workflow_schema_migrations"

// Migrate applies embedded migrations at most once each. Tables created before migrations
// were tracked are upgraded additively, "already exists" and "duplicate column" errors count as applied.
func (d *Database) Migrate(ctx context.Context) error {
	return d.migrate(ctx, migrationsFS, "migrations")
}

func (d *Database) migrate(ctx context.Context, fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("failed to read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	return d.InTx(ctx, func(tx *sqlx.Tx) error {
		createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`, migrationsTable)
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to ensure migrations table: %w", err)
		}

		for _, name := range files {
			applied, err := isApplied(ctx, tx, name)
			if err != nil {
				return fmt.Errorf("failed to check migration %s: %w", name, err)
			}
			if applied {
				continue
			}

			content, err := fs.ReadFile(fsys, path.Join(root, name))
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", name, err)
			}

			upSQL := extractUp(string(content))
			if strings.TrimSpace(upSQL) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, upSQL); err != nil {
				if !isAlreadyExists(err) {
					return fmt.Errorf("failed to apply migration %s: %w", name, err)
				}
				log.Printf("[DEBUG] migration %s already in place: %v", name, err)
			}

			q := fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationsTable)
			if _, err := tx.ExecContext(ctx, q, name, time.Now().UTC().UnixMilli()); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", name, err)
			}
			log.Printf("[INFO] applied migration %s", name)
		}
		return nil
	})
}

// extractUp returns the SQL in the "-- +migrate Up" section, or all content if there are no sections
func extractUp(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	content = content[upIdx+len("-- +migrate Up"):]
	if downIdx := strings.Index(content, "-- +migrate Down"); downIdx != -1 {
		return content[:downIdx]
	}
	return content
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func isApplied(ctx context.Context, tx *sqlx.Tx, name string) (bool, error) {
	var found int
	err := tx.GetContext(ctx, &found, "SELECT 1 FROM "+migrationsTable+" WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
