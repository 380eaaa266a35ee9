package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/reconflow/reconflow/internal/model"
)

// testCatalog returns a small but representative module catalog:
// one producer, two direct consumers, one second-level consumer, and one
// disabled module.
func testCatalog() []model.Module {
	return []model.Module{
		{Name: "discovery", Producer: true},
		{Name: "portscan", Consumer: true, Dependencies: []string{"discovery"}},
		{Name: "fingerprint", Consumer: true, Dependencies: []string{"discovery"}},
		{Name: "screenshot", Consumer: true, Dependencies: []string{"fingerprint"}},
		{Name: "legacy", Consumer: true, Dependencies: []string{"discovery"}, Disabled: true},
	}
}

// TestNew tests catalog validation.
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid catalog", func(t *testing.T) {
		t.Parallel()

		reg, err := New(testCatalog())
		if err != nil {
			t.Fatalf("New() returned error: %v", err)
		}
		if got := reg.Len(); got != 5 {
			t.Errorf("Len() = %d, want 5", got)
		}
	})

	t.Run("empty catalog", func(t *testing.T) {
		t.Parallel()

		if _, err := New(nil); !errors.Is(err, ErrNoModules) {
			t.Errorf("expected ErrNoModules, got %v", err)
		}
	})

	t.Run("duplicate module name", func(t *testing.T) {
		t.Parallel()

		modules := []model.Module{
			{Name: "discovery", Producer: true},
			{Name: "discovery", Consumer: true},
		}
		if _, err := New(modules); !errors.Is(err, ErrDuplicateModule) {
			t.Errorf("expected ErrDuplicateModule, got %v", err)
		}
	})

	t.Run("undeclared dependency", func(t *testing.T) {
		t.Parallel()

		modules := []model.Module{
			{Name: "portscan", Consumer: true, Dependencies: []string{"discovery"}},
		}
		if _, err := New(modules); !errors.Is(err, ErrUndeclaredDependency) {
			t.Errorf("expected ErrUndeclaredDependency, got %v", err)
		}
	})

	t.Run("dependency cycle", func(t *testing.T) {
		t.Parallel()

		modules := []model.Module{
			{Name: "a", Dependencies: []string{"b"}},
			{Name: "b", Dependencies: []string{"c"}},
			{Name: "c", Dependencies: []string{"a"}},
		}
		if _, err := New(modules); !errors.Is(err, ErrDependencyCycle) {
			t.Errorf("expected ErrDependencyCycle, got %v", err)
		}
	})

	t.Run("self dependency is a cycle", func(t *testing.T) {
		t.Parallel()

		modules := []model.Module{
			{Name: "a", Dependencies: []string{"a"}},
		}
		if _, err := New(modules); !errors.Is(err, ErrDependencyCycle) {
			t.Errorf("expected ErrDependencyCycle, got %v", err)
		}
	})
}

// TestLoadFile tests loading a registry from YAML.
func TestLoadFile(t *testing.T) {
	t.Parallel()

	t.Run("valid registry file", func(t *testing.T) {
		t.Parallel()

		content := `modules:
  - name: discovery
    producer: true
    launch:
      command: reconflow
      args: ["worker"]
  - name: portscan
    consumer: true
    dependencies: [discovery]
    launch:
      command: reconflow
      args: ["worker"]
      env:
        SCAN_RATE: "1000"
`
		path := filepath.Join(t.TempDir(), "registry.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write registry file: %v", err)
		}

		reg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() returned error: %v", err)
		}

		m, err := reg.Resolve("portscan")
		if err != nil {
			t.Fatalf("Resolve() returned error: %v", err)
		}
		if !m.Consumer {
			t.Error("portscan should be a consumer")
		}
		if m.Launch.Command != "reconflow" {
			t.Errorf("Launch.Command = %q, want %q", m.Launch.Command, "reconflow")
		}
		if m.Launch.Env["SCAN_RATE"] != "1000" {
			t.Errorf("Launch.Env[SCAN_RATE] = %q, want %q", m.Launch.Env["SCAN_RATE"], "1000")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "broken.yaml")
		if err := os.WriteFile(path, []byte("modules: [unclosed"), 0600); err != nil {
			t.Fatalf("failed to write registry file: %v", err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Error("expected error for malformed yaml")
		}
	})

	t.Run("invalid catalog in file", func(t *testing.T) {
		t.Parallel()

		content := `modules:
  - name: portscan
    dependencies: [missing]
`
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write registry file: %v", err)
		}
		if _, err := LoadFile(path); !errors.Is(err, ErrUndeclaredDependency) {
			t.Errorf("expected ErrUndeclaredDependency, got %v", err)
		}
	})
}

// TestResolve tests name lookup.
func TestResolve(t *testing.T) {
	t.Parallel()

	reg, err := New(testCatalog())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	t.Run("known module", func(t *testing.T) {
		t.Parallel()

		m, err := reg.Resolve("discovery")
		if err != nil {
			t.Fatalf("Resolve() returned error: %v", err)
		}
		if !m.Producer {
			t.Error("discovery should be a producer")
		}
	})

	t.Run("unknown module", func(t *testing.T) {
		t.Parallel()

		if _, err := reg.Resolve("nonexistent"); !errors.Is(err, ErrUnknownModule) {
			t.Errorf("expected ErrUnknownModule, got %v", err)
		}
	})

	t.Run("disabled module is still resolvable", func(t *testing.T) {
		t.Parallel()

		m, err := reg.Resolve("legacy")
		if err != nil {
			t.Fatalf("Resolve() returned error: %v", err)
		}
		if !m.Disabled {
			t.Error("legacy should be disabled")
		}
	})
}

// TestListActive tests the active module listing.
func TestListActive(t *testing.T) {
	t.Parallel()

	reg, err := New(testCatalog())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	active := reg.ListActive()
	if len(active) != 4 {
		t.Fatalf("ListActive() returned %d modules, want 4", len(active))
	}
	for i, m := range active {
		if m.Disabled {
			t.Errorf("ListActive() includes disabled module %q", m.Name)
		}
		if i > 0 && active[i-1].Name > m.Name {
			t.Error("ListActive() is not sorted by name")
		}
	}
}
