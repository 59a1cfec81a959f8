package migration

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"gorm.io/gorm"
)

// RunMigrations applies the embedded .up.sql files in lexical order,
// recording each applied file so reruns are no-ops.
func RunMigrations(db *gorm.DB) error {
	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`,
	).Error; err != nil {
		return err
	}

	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		applied, err := isApplied(db, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		contents, err := fs.ReadFile(embeddedMigrations, path.Join(migrationsDir, name))
		if err != nil {
			return err
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(contents)).Error; err != nil {
				return fmt.Errorf("migration %s: %w", name, err)
			}
			return tx.Exec(
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
				name,
				time.Now().UTC(),
			).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func isApplied(db *gorm.DB, name string) (bool, error) {
	var count int64
	err := db.Raw(
		`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`,
		name,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
