package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `lease:
  ttl: 45m
  reconcile_interval: 30s
workspace:
  retention: 24h
  teardown_retries: 5
assign:
  retry_after: 5s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Lease.TTL != 45*time.Minute {
		t.Errorf("lease ttl = %v, want 45m", cfg.Lease.TTL)
	}
	if cfg.Lease.ReconcileInterval != 30*time.Second {
		t.Errorf("reconcile interval = %v, want 30s", cfg.Lease.ReconcileInterval)
	}
	if cfg.Workspace.Retention != 24*time.Hour {
		t.Errorf("retention = %v, want 24h", cfg.Workspace.Retention)
	}
	if cfg.Workspace.TeardownRetries != 5 {
		t.Errorf("teardown retries = %d, want 5", cfg.Workspace.TeardownRetries)
	}
	if cfg.Assign.RetryAfter != 5*time.Second {
		t.Errorf("retry after = %v, want 5s", cfg.Assign.RetryAfter)
	}

	// Unset keys fall back to defaults.
	if cfg.Workspace.TeardownBackoff != 500*time.Millisecond {
		t.Errorf("teardown backoff default = %v", cfg.Workspace.TeardownBackoff)
	}
	if cfg.Workspace.SweepInterval != 15*time.Minute {
		t.Errorf("sweep interval default = %v", cfg.Workspace.SweepInterval)
	}
}

func TestDefaultMatchesSetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	def := Default()
	if loaded.Lease.TTL != def.Lease.TTL {
		t.Errorf("lease ttl: loaded %v, Default %v", loaded.Lease.TTL, def.Lease.TTL)
	}
	if loaded.Workspace.Retention != def.Workspace.Retention {
		t.Errorf("retention: loaded %v, Default %v", loaded.Workspace.Retention, def.Workspace.Retention)
	}
	if loaded.Assign.RetryAfter != def.Assign.RetryAfter {
		t.Errorf("retry after: loaded %v, Default %v", loaded.Assign.RetryAfter, def.Assign.RetryAfter)
	}
}
