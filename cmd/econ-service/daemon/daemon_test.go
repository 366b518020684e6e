package daemon_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcore/econ-insights/cmd/econ-service/daemon"
	"github.com/abcore/econ-insights/internal/analyst"
	serverTestUtils "github.com/abcore/econ-insights/internal/common/testutils"
)

const wideCSV = `Description,Jul-13,Aug-13
Exports of goods,1000,1100
Imports of goods,1500,1400
`

func TestVersion(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "version command should not fail")
}

func TestProcess(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args        []string
		withDataset bool

		wantOutput   []string
		wantErr      bool
		wantUsageErr bool
	}{
		"Processes a dataset file": {
			withDataset: true,
			wantOutput:  []string{"balance_on_goods", "current_account_calculated", "FY2013", "derived"},
		},

		// Error cases
		"No argument is a usage error": {
			args:         []string{},
			wantErr:      true,
			wantUsageErr: true,
		},
		"Missing file errors": {
			args:    []string{filepath.Join(os.TempDir(), "does-not-exist.csv")},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			args := tc.args
			if tc.withDataset {
				path := filepath.Join(t.TempDir(), "current-account.csv")
				require.NoError(t, os.WriteFile(path, []byte(wideCSV), 0600), "Setup: failed to write dataset file")
				args = []string{path}
			}

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")

			var out bytes.Buffer
			a.SetOut(&out)
			a.SetArgs(append([]string{"process"}, args...)...)

			err = a.Run()
			if tc.wantErr {
				require.Error(t, err, "process command should fail")
				assert.Equal(t, tc.wantUsageErr, a.UsageError(), "unexpected usage error state")
				return
			}
			require.NoError(t, err, "process command should not fail")

			for _, want := range tc.wantOutput {
				assert.Contains(t, out.String(), want, "process output should mention %q", want)
			}
		})
	}
}

func TestProcessUpload(t *testing.T) {
	t.Parallel()

	db := serverTestUtils.StartPostgresContainer(t)
	require.NoError(t, db.IsReady(t, 5*time.Second, 10), "Setup: database container was not ready in time")
	serverTestUtils.ApplyMigrations(t, db.DSN, filepath.Join(serverTestUtils.ModuleRoot(), "migrations"))

	// The trailing row has unparsable values and must land in invalid_rows.
	path := filepath.Join(t.TempDir(), "current-account.csv")
	require.NoError(t, os.WriteFile(path, []byte(wideCSV+"Bad entry,abc,def\n"), 0600), "Setup: failed to write dataset file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("process", path, "--upload",
		"--db-host", db.Host,
		"--db-port", db.Port,
		"--db-user", db.User,
		"--db-password", db.Password,
		"--db-name", db.Name,
		"-vv")

	require.NoError(t, a.Run(), "process --upload should succeed")

	conn, err := pgx.Connect(t.Context(), db.DSN)
	require.NoError(t, err, "Setup: failed to connect to the database")
	defer conn.Close(context.Background())

	var observations int
	require.NoError(t,
		conn.QueryRow(t.Context(), "SELECT COUNT(*) FROM economic_indicators WHERE dataset = $1", "current-account").Scan(&observations),
		"failed to count uploaded observations")
	assert.Positive(t, observations, "expected uploaded observations")

	var categorized int
	require.NoError(t,
		conn.QueryRow(t.Context(), "SELECT COUNT(*) FROM economic_indicators WHERE indicator_category IS NOT NULL").Scan(&categorized),
		"failed to count categorized observations")
	assert.Zero(t, categorized, "indicator_category should be NULL on ingest")

	var rejected int
	require.NoError(t,
		conn.QueryRow(t.Context(), "SELECT COUNT(*) FROM invalid_rows WHERE dataset = $1", "current-account").Scan(&rejected),
		"failed to count rejected rows")
	assert.Positive(t, rejected, "expected the unparsable row to be recorded")
}

func TestNewestDatasetFile(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files      map[string]time.Duration // relative path, age
		missingDir bool

		want    string
		wantErr bool
	}{
		"Picks the most recent file": {
			files: map[string]time.Duration{
				"current_account/june.csv":   2 * time.Hour,
				"current_account/july.csv":   time.Hour,
				"trade_balance/archive.xlsx": 3 * time.Hour,
				"remittances/quarterly.xlsx": 4 * time.Hour,
			},
			want: "current_account/july.csv",
		},
		"Ignores unsupported files": {
			files: map[string]time.Duration{
				"current_account/june.csv": 2 * time.Hour,
				"notes.txt":                time.Hour,
				"current_account/raw.xls":  time.Minute,
			},
			want: "current_account/june.csv",
		},

		// Error cases
		"Empty directory errors": {
			wantErr: true,
		},
		"Missing directory errors": {
			missingDir: true,
			wantErr:    true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tc.missingDir {
				dir = filepath.Join(dir, "does-not-exist")
			}

			now := time.Now()
			for rel, age := range tc.files {
				path := filepath.Join(dir, filepath.FromSlash(rel))
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700), "Setup: failed to create dataset directory")
				require.NoError(t, os.WriteFile(path, []byte("Description,Jul-13\na,1\n"), 0600), "Setup: failed to write dataset file")
				require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)), "Setup: failed to age dataset file")
			}

			got, err := daemon.NewestDatasetFile(dir)
			if tc.wantErr {
				require.Error(t, err, "expected no dataset file to be found")
				return
			}
			require.NoError(t, err, "expected a dataset file to be found")
			assert.Equal(t, filepath.Join(dir, filepath.FromSlash(tc.want)), got, "unexpected dataset file")
		})
	}
}

func TestAnalyzeDefaultsToNewestDataset(t *testing.T) {
	datasetsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(datasetsDir, "current_account"), 0700), "Setup: failed to create dataset directory")
	require.NoError(t,
		os.WriteFile(filepath.Join(datasetsDir, "current_account", "june.csv"), []byte(wideCSV), 0600),
		"Setup: failed to write dataset file")

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("analyze", "--datasets-dir", datasetsDir)

	// Failing on the missing credentials proves the dataset file was resolved.
	err = a.Run()
	require.Error(t, err, "analyze should fail without credentials")
	require.ErrorIs(t, err, analyst.ErrNoAPIKey, "analyze should get as far as the provider check")
}

func TestAnalyzeWithoutCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-account.csv")
	require.NoError(t, os.WriteFile(path, []byte(wideCSV), 0600), "Setup: failed to write dataset file")

	// Ensure no provider keys leak in from the environment.
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("analyze", path)

	require.Error(t, a.Run(), "analyze should fail without credentials")
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")

	conf := a.Config()
	assert.Zero(t, conf.Verbosity, "verbosity should default to zero")
	assert.False(t, conf.JSONLogs, "JSON logs should default to off")
}
