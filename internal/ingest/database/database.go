// Package database provides the database connection and upload functionality
// for the ingest service. It handles the connection to a PostgreSQL database
// and provides methods to upload cleaned observations and rejected rows.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubuntu/decorate"

	"github.com/abcore/econ-insights/internal/pipeline/models"
)

const (
	observationsTable = "economic_indicators"
	invalidRowsTable  = "invalid_rows"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL database connection pool.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// Connect creates a database manager with a PostgreSQL connection pool using
// the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// UploadObservations uploads the cleaned and derived observations of a single
// source file to the PostgreSQL database in one batch.
func (db Manager) UploadObservations(ctx context.Context, runID, dataset string, obs []models.Observation) (err error) {
	defer decorate.OnError(&err, "failed to upload observations for run %s", runID)

	return db.upload(ctx, func(ctx context.Context) error {
		table := pgx.Identifier{observationsTable}.Sanitize()
		query := fmt.Sprintf(
			`INSERT INTO %s (
				run_id,
				dataset,
				entry_time,
				description,
				indicator_date,
				indicator_category,
				fiscal_year,
				value,
				derived
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			table,
		)

		batch := &pgx.Batch{}
		now := time.Now()
		for _, o := range obs {
			batch.Queue(query,
				runID,         // run_id
				dataset,       // dataset
				now,           // entry_time
				o.Description, // description
				o.Date,        // indicator_date
				nil,           // indicator_category, classified manually after ingest
				o.FiscalYear,  // fiscal_year
				o.Value,       // value
				o.Derived,     // derived
			)
		}

		return db.dbpool.SendBatch(ctx, batch).Close()
	})
}

// UploadInvalidRows records rows rejected during cleaning so no source data
// is silently lost.
func (db Manager) UploadInvalidRows(ctx context.Context, runID, dataset string, rows []models.RejectedRow) (err error) {
	defer decorate.OnError(&err, "failed to upload invalid rows for run %s", runID)

	if len(rows) == 0 {
		return nil
	}

	return db.upload(ctx, func(ctx context.Context) error {
		table := pgx.Identifier{invalidRowsTable}.Sanitize()
		query := fmt.Sprintf(
			`INSERT INTO %s (
				run_id,
				dataset,
				entry_time,
				raw_row,
				reason
			) VALUES ($1, $2, $3, $4, $5)`,
			table,
		)

		batch := &pgx.Batch{}
		now := time.Now()
		for _, r := range rows {
			batch.Queue(query,
				runID,    // run_id
				dataset,  // dataset
				now,      // entry_time
				r.Raw,    // raw_row
				r.Reason, // reason
			)
		}

		return db.dbpool.SendBatch(ctx, batch).Close()
	})
}

func (db Manager) upload(ctx context.Context, execFn func(context.Context) error) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := execFn(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("upload canceled: %v", err)
		}
		return fmt.Errorf("failed to upload data: %v", err)
	}
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
