// Package store wraps the relational time-series backend: connection
// pooling, embedded-migration bootstrap, and the repositories the
// Correlation and Query engines read and write through (logs,
// correlation_rules, rule_conditions, rule_performance_metrics,
// incidents). It uses direct pgx/database/sql access rather than an ORM:
// the Query Engine hand-emits its own SQL, so a query builder on top
// would be redundant.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds relational store connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns Sentinel's documented pool-sizing defaults.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Store is the relational backend handle shared by every repository.
type Store struct {
	db *sql.DB

	Logs       *LogRepository
	Rules      *RuleRepository
	Incidents  *IncidentRepository
	Metrics    *MetricsRepository
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Open connects, applies embedded migrations, and wires up repositories.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping relational store: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{
		db:        db,
		Logs:      &LogRepository{db: db},
		Rules:     &RuleRepository{db: db},
		Incidents: &IncidentRepository{db: db},
		Metrics:   &MetricsRepository{db: db},
	}, nil
}

// NewFromDB wraps an already-open *sql.DB (used by integration tests that
// provision their own testcontainers-go postgres instance and run
// migrations separately).
func NewFromDB(db *sql.DB) *Store {
	return &Store{
		db:        db,
		Logs:      &LogRepository{db: db},
		Rules:     &RuleRepository{db: db},
		Incidents: &IncidentRepository{db: db},
		Metrics:   &MetricsRepository{db: db},
	}
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sentinel", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Do not call m.Close(): it would close db through the shared driver.
	return sourceDriver.Close()
}
