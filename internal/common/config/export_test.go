package config

import "log/slog"

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Options {
	return func(o *options) {
		o.Logger = logger
	}
}

// GetReservedNames returns the reserved dataset names for testing.
func GetReservedNames() map[string]struct{} {
	names := make(map[string]struct{}, len(reservedNames))
	for name := range reservedNames {
		names[name] = struct{}{}
	}
	return names
}

// AllowSet returns the internal allow set for testing.
func (cm *Manager) AllowSet() map[string]struct{} {
	cm.lock.RLock()
	defer cm.lock.RUnlock()

	set := make(map[string]struct{}, len(cm.allowSet))
	for name := range cm.allowSet {
		set[name] = struct{}{}
	}
	return set
}
