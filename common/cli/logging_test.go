package cli_test

import (
	"log/slog"
	"testing"

	"github.com/abcore/econ-insights/common/cli"
	"github.com/abcore/econ-insights/common/internal/constants"
	"github.com/stretchr/testify/assert"
)

// initialLogger restores the default logger between cases, since SetVerbosity
// and SetSlog mutate global state.
var initialLogger = slog.Default()

func TestSetVerbosity(t *testing.T) {
	tests := map[string]struct {
		verbosity []int
	}{
		"Quiet by default":                 {verbosity: []int{0}},
		"Single verbose enables info":      {verbosity: []int{1}},
		"Double verbose enables debug":     {verbosity: []int{2}},
		"Verbosity can be lowered again":   {verbosity: []int{1, 0}},
		"Verbosity can be raised in steps": {verbosity: []int{1, 2}},
		"Full cycle returns to quiet":      {verbosity: []int{1, 2, 0}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(func() { slog.SetDefault(initialLogger) })

			for _, v := range tc.verbosity {
				cli.SetVerbosity(v)

				level := wantLevel(v)
				assert.True(t, slog.Default().Enabled(t.Context(), level),
					"Logs at the configured level should be enabled")
				assert.False(t, slog.Default().Enabled(t.Context(), level-1),
					"Logs below the configured level should be disabled")
			}
		})
	}
}

func TestSetSlog(t *testing.T) {
	tests := map[string]struct {
		verbosity int
		jsonLogs  bool
	}{
		"Quiet text logs": {},
		"Info text logs":  {verbosity: 1},
		"Info JSON logs":  {verbosity: 1, jsonLogs: true},
		"Debug JSON logs": {verbosity: 2, jsonLogs: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(func() { slog.SetDefault(initialLogger) })

			cli.SetSlog(tc.verbosity, tc.jsonLogs)

			_, isJSON := slog.Default().Handler().(*slog.JSONHandler)
			assert.Equal(t, tc.jsonLogs, isJSON, "Unexpected log handler type")

			level := wantLevel(tc.verbosity)
			assert.True(t, slog.Default().Enabled(t.Context(), level),
				"Logs at the configured level should be enabled")
			assert.False(t, slog.Default().Enabled(t.Context(), level-1),
				"Logs below the configured level should be disabled")
		})
	}
}

func wantLevel(verbosity int) slog.Level {
	switch verbosity {
	case 0:
		return constants.DefaultLogLevel
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
