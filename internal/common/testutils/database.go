// Package testutils provides econ-service specific test helpers.
package testutils

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // migration target driver
	_ "github.com/golang-migrate/migrate/v4/source/file"  // migration script source
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/abcore/econ-insights/internal/ingest/database"
)

const (
	containerUser     = "econ"
	containerPassword = "econ"
	containerDB       = "indicators_test"
)

// PostgresContainer is a disposable PostgreSQL instance for indicator
// ingestion tests.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string

	User     string
	Password string
	Name     string
	Host     string
	Port     string
}

// StartPostgresContainer starts a PostgreSQL container and waits for it to
// accept connections.
func StartPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("Skipping PostgreSQL container test on non-Linux OS")
	}

	ctx := t.Context()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:latest",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     containerUser,
				"POSTGRES_PASSWORD": containerPassword,
				"POSTGRES_DB":       containerDB,
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Setup: failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Setup: failed to get container host")
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "Setup: failed to get mapped port")

	pc := &PostgresContainer{
		Container: container,

		User:     containerUser,
		Password: containerPassword,
		Name:     containerDB,
		Host:     host,
		Port:     port.Port(),
	}
	pc.DSN = pc.DatabaseConfig().URI("postgres")
	return pc
}

// DatabaseConfig returns the connection configuration of the container in
// the shape the ingest database manager consumes.
func (pc *PostgresContainer) DatabaseConfig() database.Config {
	port, err := strconv.Atoi(pc.Port)
	if err != nil {
		port = 0
	}
	return database.Config{
		Host:     pc.Host,
		Port:     port,
		User:     pc.User,
		Password: pc.Password,
		DBName:   pc.Name,
		SSLMode:  "disable",
	}
}

// Stop terminates the container.
func (pc *PostgresContainer) Stop(ctx context.Context) error {
	return pc.Container.Terminate(ctx)
}

// IsReady tries to connect until the database answers, up to attempts times
// with the given per-attempt timeout.
func (pc PostgresContainer) IsReady(t *testing.T, timeout time.Duration, attempts int) error {
	t.Helper()

	cfg, err := pgx.ParseConfig(pc.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse DSN: %w", err)
	}

	for i := range attempts {
		ctx, cancel := context.WithTimeout(t.Context(), timeout)
		conn, err := pgx.ConnectConfig(ctx, cfg)
		cancel()

		if err != nil {
			t.Logf("Attempt %d: database not ready: %v", i+1, err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctx, cancel = context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		return conn.Close(ctx)
	}

	return fmt.Errorf("database did not become ready after %d attempts: %v", attempts, err)
}

// ApplyMigrations runs every migration script in migrationsDir against the
// database, creating the indicator tables.
func ApplyMigrations(t *testing.T, dsn string, migrationsDir string) {
	t.Helper()

	m, err := migrate.New(
		"file://"+migrationsDir,
		"pgx://"+strings.TrimPrefix(dsn, "postgres://"),
	)
	require.NoError(t, err, "Setup: failed to create migration instance")
	if err := m.Up(); err != nil {
		require.ErrorIs(t, err, migrate.ErrNoChange, "Setup: failed to apply migrations")
	}
}

// DBListTables returns the public base tables of the database, minus any
// excluded names.
func DBListTables(t *testing.T, dsn string, exclude ...string) []string {
	t.Helper()

	conn, err := pgx.Connect(t.Context(), dsn)
	require.NoError(t, err, "failed to connect to the database")
	defer func() {
		require.NoError(t, conn.Close(t.Context()), "failed to close the database connection")
	}()

	rows, err := conn.Query(t.Context(), `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	require.NoError(t, err, "failed to list tables")
	all, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err, "failed to scan table names")

	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	var tables []string
	for _, name := range all {
		if !excluded[name] {
			tables = append(tables, name)
		}
	}
	return tables
}
