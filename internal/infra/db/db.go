// Package db opens the configured SQL database, applies migrations and builds the
// matching report repository.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/healthmate/internal/domain/reports"
	"github.com/bryanwahyu/healthmate/internal/infra/db/mysql"
	"github.com/bryanwahyu/healthmate/internal/infra/db/postgres"
	"github.com/bryanwahyu/healthmate/internal/infra/db/sqlite"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to driver using dsn and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Connect(ctx, dsn)
	case DriverPostgres:
		return postgres.Connect(ctx, dsn)
	case DriverSQLite:
		return sqlite.Connect(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewReportRepository returns the repository implementation for driver.
func NewReportRepository(driver string, conn *sql.DB) (reports.Repository, error) {
	switch driver {
	case DriverMySQL:
		return mysql.NewReportRepository(conn), nil
	case DriverPostgres:
		return postgres.NewReportRepository(conn), nil
	case DriverSQLite:
		return sqlite.NewReportRepository(conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Setup opens the database, runs migrations and returns the connection plus repository.
func Setup(ctx context.Context, driver, dsn string) (*sql.DB, reports.Repository, error) {
	conn, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := RunMigrations(ctx, conn, driver); err != nil {
		conn.Close()
		return nil, nil, err
	}
	repo, err := NewReportRepository(driver, conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, repo, nil
}
