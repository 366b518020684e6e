package fileutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcore/econ-insights/common/fileutils"
)

func TestAtomicWrite(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data       []byte
		fileExists bool

		wantErr bool
	}{
		"Empty file":          {data: []byte{}},
		"Non-empty file":      {data: []byte("data")},
		"Override file":       {data: []byte("data"), fileExists: true},
		"Override empty file": {data: []byte{}, fileExists: true},

		"Missing parent directory errors": {data: []byte("data"), wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "file")
			if tc.wantErr {
				path = filepath.Join(path, "file")
			}

			if tc.fileExists {
				require.NoError(t, os.WriteFile(path, []byte("to be replaced"), 0600), "Setup: failed to write original file")
			}

			err := fileutils.AtomicWrite(path, tc.data)
			if tc.wantErr {
				require.Error(t, err, "expected write to fail")
				return
			}
			require.NoError(t, err, "expected write to succeed")

			got, err := os.ReadFile(path)
			require.NoError(t, err, "failed to read written file")
			assert.Equal(t, tc.data, got, "unexpected file contents")
		})
	}
}
