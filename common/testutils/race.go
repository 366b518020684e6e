//go:build race

package testutils

// IsRace reports whether tests were built with the race detector.
func IsRace() bool { return true }
