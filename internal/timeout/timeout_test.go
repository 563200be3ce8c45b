package timeout

import (
	"testing"
	"time"
)

func testManager() *Manager {
	return NewManager(Config{
		DefaultTimeout: 30 * time.Second,
		Rules: []Rule{
			{Pattern: "pg_stat", Timeout: 5 * time.Second},
			{Pattern: "JOIN", Timeout: 60 * time.Second},
		},
	})
}

func TestResolveFirstMatchWins(t *testing.T) {
	t.Parallel()
	m := testManager()

	got := m.Resolve("SELECT * FROM pg_stat_activity")
	if got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}

	// Both rules match; the first one listed decides.
	got = m.Resolve("SELECT * FROM pg_stat JOIN x JOIN y JOIN z")
	if got != 5*time.Second {
		t.Errorf("expected 5s (first match wins), got %v", got)
	}
}

func TestResolveDefault(t *testing.T) {
	t.Parallel()
	m := testManager()

	if got := m.Resolve("SELECT 1"); got != 30*time.Second {
		t.Errorf("expected 30s (default), got %v", got)
	}
}

func TestResolveNoRules(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{DefaultTimeout: 30 * time.Second})

	if got := m.Resolve("SELECT 1"); got != 30*time.Second {
		t.Errorf("expected 30s (default), got %v", got)
	}
}

func TestResolveWithPattern(t *testing.T) {
	t.Parallel()
	m := testManager()

	d, pattern := m.ResolveWithPattern("SELECT * FROM pg_stat_activity")
	if d != 5*time.Second {
		t.Errorf("expected 5s, got %v", d)
	}
	if pattern != "pg_stat" {
		t.Errorf("expected pattern 'pg_stat', got %q", pattern)
	}

	d, pattern = m.ResolveWithPattern("SELECT 1")
	if d != 30*time.Second {
		t.Errorf("expected 30s (default), got %v", d)
	}
	if pattern != "" {
		t.Errorf("expected empty pattern for default timeout, got %q", pattern)
	}
}

func TestNewManagerPanics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config Config
	}{
		{"invalid regex", Config{
			DefaultTimeout: 30 * time.Second,
			Rules:          []Rule{{Pattern: `[invalid`, Timeout: 5 * time.Second}},
		}},
		{"non-positive default", Config{DefaultTimeout: 0}},
		{"non-positive rule timeout", Config{
			DefaultTimeout: 30 * time.Second,
			Rules:          []Rule{{Pattern: "JOIN", Timeout: 0}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			NewManager(tt.config)
		})
	}
}
