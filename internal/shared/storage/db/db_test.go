package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// withMockDB routes Connect to a sqlmock handle that monitors pings.
func withMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	prev := openDB
	openDB = func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("expected pgx driver, got %q", driverName)
		}
		return mockDB, nil
	}
	t.Cleanup(func() {
		openDB = prev
		_ = mockDB.Close()
	})
	return mockDB, mock
}

func TestConnectAppliesEnvOverrides(t *testing.T) {
	_, mock := withMockDB(t)
	mock.ExpectPing()

	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_MAX_IDLE_CONNS", "3")
	t.Setenv("DB_CONN_MAX_LIFETIME", "20m")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "45s")
	t.Setenv("DB_PING_TIMEOUT", "1s")

	opts := OptionsFromEnv(DefaultServerOptions())
	pool, err := Connect(context.Background(), "postgres://cache", opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := pool.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("expected MaxOpenConnections=7, got %d", got)
	}
	want := Options{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: 20 * time.Minute, ConnMaxIdleTime: 45 * time.Second, PingTimeout: time.Second}
	if opts != want {
		t.Fatalf("unexpected options %+v", opts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	if _, err := Connect(context.Background(), "  ", DefaultServerOptions()); err == nil {
		t.Fatalf("expected error for empty database url")
	}
}

func TestConnectClosesOnPingFailure(t *testing.T) {
	_, mock := withMockDB(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	if _, err := Connect(context.Background(), "postgres://cache", DefaultMigrateOptions()); err == nil {
		t.Fatalf("expected ping failure to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConnectSurfacesOpenError(t *testing.T) {
	prev := openDB
	openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("unknown driver") }
	defer func() { openDB = prev }()

	if _, err := Connect(context.Background(), "postgres://cache", DefaultMigrateOptions()); err == nil {
		t.Fatalf("expected open failure to surface")
	}
}

func TestConnectFillsZeroOptions(t *testing.T) {
	_, mock := withMockDB(t)
	mock.ExpectPing()

	pool, err := Connect(context.Background(), "postgres://cache", Options{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := pool.Stats().MaxOpenConnections; got != DefaultServerOptions().MaxOpenConns {
		t.Fatalf("expected default max open, got %d", got)
	}
}

func TestOptionsFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("DB_PING_TIMEOUT", "soon")

	opts := OptionsFromEnv(DefaultMigrateOptions())
	if opts.MaxOpenConns != 1 {
		t.Fatalf("expected migrate default to survive, got %d", opts.MaxOpenConns)
	}
	if opts.PingTimeout != defaultPingTimeout {
		t.Fatalf("expected default ping timeout, got %s", opts.PingTimeout)
	}
}

func TestOpenSQLiteAppliesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	db, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()

	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'cache_entries'`).Scan(&name); err != nil {
		t.Fatalf("expected cache_entries table: %v", err)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
}
