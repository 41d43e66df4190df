// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion は適用済みスキーマのバージョン。
// Versionが0の場合はマイグレーションが1つも適用されていない。
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// NewMigrator は埋め込みの蔵書スキーマを読み込んだmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load apollo schema migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create apollo schema migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply apollo schema migrations: %w", err)
	}
	return nil
}

// RollbackMigrations は直近のマイグレーションをsteps件だけ巻き戻す。
// 適用済みの件数を超える指定は、適用済みの分を巻き戻した上でエラーを返す。
func RollbackMigrations(databaseURL string, steps int) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be at least 1, got %d", steps)
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Steps(-steps)
	var short migrate.ErrShortLimit
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return errors.New("no apollo schema migrations to roll back")
	case errors.As(err, &short):
		return fmt.Errorf("rolled back only %d of %d apollo schema migration(s)", steps-int(short.Short), steps)
	default:
		return fmt.Errorf("failed to roll back apollo schema migrations: %w", err)
	}
}

// CurrentSchemaVersion は適用済みスキーマのバージョンを返す。
func CurrentSchemaVersion(databaseURL string) (SchemaVersion, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("failed to read apollo schema version: %w", err)
	}
	return SchemaVersion{Version: version, Dirty: dirty}, nil
}
