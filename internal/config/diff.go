package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// network changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GlossaryChanged is true when the glossary path changed. The normalizer
	// is built once at startup, so this only triggers a restart notice.
	GlossaryChanged bool

	// ReferenceChanged is true when the reference document list changed; the
	// retriever index is rebuilt from the new paths.
	ReferenceChanged bool

	// SessionChanged is true when any session tuning value changed. The
	// orchestrator is built once at startup, so this only triggers a
	// restart notice.
	SessionChanged bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GlossaryChanged || d.ReferenceChanged || d.SessionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Glossary.Path != new.Glossary.Path {
		d.GlossaryChanged = true
	}

	if !slices.Equal(old.Reference.Paths, new.Reference.Paths) {
		d.ReferenceChanged = true
	}

	if old.Session != new.Session {
		d.SessionChanged = true
	}

	return d
}
