package config_test

import (
	"testing"

	"github.com/tolk-ai/tolk/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Glossary:  config.GlossaryConfig{Path: "glossary.yaml"},
		Reference: config.ReferenceConfig{Paths: []string{"docs/a.txt", "docs/b.txt"}},
		Session: config.SessionConfig{
			Mode:          config.ModeFull,
			WordThreshold: 25,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_GlossaryPath(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Glossary.Path = "other-glossary.yaml"

	d := config.Diff(old, new)
	if !d.GlossaryChanged {
		t.Fatal("GlossaryChanged should be true")
	}
	if d.LogLevelChanged || d.ReferenceChanged || d.SessionChanged {
		t.Errorf("unrelated fields flagged: %+v", d)
	}
}

func TestDiff_ReferencePaths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		paths []string
		want  bool
	}{
		{"identical", []string{"docs/a.txt", "docs/b.txt"}, false},
		{"reordered", []string{"docs/b.txt", "docs/a.txt"}, true},
		{"added", []string{"docs/a.txt", "docs/b.txt", "docs/c.txt"}, true},
		{"removed", []string{"docs/a.txt"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			new := baseConfig()
			new.Reference.Paths = tt.paths
			if got := config.Diff(old, new).ReferenceChanged; got != tt.want {
				t.Errorf("ReferenceChanged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiff_SessionTuning(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Session.QualityPauseMs = 3000

	d := config.Diff(old, new)
	if !d.SessionChanged {
		t.Fatal("SessionChanged should be true")
	}
}
