package testutils

import (
	"os"
	"strings"
	"sync"
	"testing"
)

var coverDir = sync.OnceValue(func() string {
	if testing.CoverMode() == "" {
		return ""
	}
	for _, arg := range os.Args {
		if dir, ok := strings.CutPrefix(arg, "-test.gocoverdir="); ok {
			return dir
		}
	}
	return ""
})

// CoverDirForTests returns the directory coverage data is collected in,
// or "" when the test binary runs without coverage.
func CoverDirForTests() string {
	return coverDir()
}

// AppendCovEnv extends env so a spawned binary built with -cover writes its
// coverage data next to the test's own.
func AppendCovEnv(env []string) []string {
	dir := CoverDirForTests()
	if dir == "" {
		return env
	}
	return append(env, "GOCOVERDIR="+dir)
}
