package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// MigrateUp applies pending SQL migrations from the migrations directory
// next to the working directory (or a parent, when run from cmd/).
func MigrateUp(databaseURL string) error {
	cwd, _ := os.Getwd()
	dirs := []string{
		filepath.Join(cwd, "migrations"),
		filepath.Join(cwd, "..", "migrations"),
		filepath.Join(cwd, "..", "..", "migrations"),
	}
	var absDir string
	for _, d := range dirs {
		if _, err := os.Stat(d); err == nil {
			absDir, _ = filepath.Abs(d)
			break
		}
	}
	if absDir == "" {
		return fmt.Errorf("migrations dir not found near %s", cwd)
	}
	sourceURL := "file://" + filepath.ToSlash(absDir)

	// golang-migrate's pgx driver registers the pgx5 scheme.
	target := databaseURL
	if strings.HasPrefix(target, "postgres://") {
		target = "pgx5://" + strings.TrimPrefix(target, "postgres://")
	} else if strings.HasPrefix(target, "postgresql://") {
		target = "pgx5://" + strings.TrimPrefix(target, "postgresql://")
	}

	m, err := migrate.New(sourceURL, target)
	if err != nil {
		return fmt.Errorf("migrate new: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
