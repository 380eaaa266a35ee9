package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/reconflow/reconflow/internal/model"
)

// Registry is an immutable catalog of worker modules keyed by name.
// Construct one with New or LoadFile; both validate the catalog fully
// before returning it.
type Registry struct {
	modules map[string]model.Module
}

// file is the on-disk YAML shape of a registry.
type file struct {
	Modules []model.Module `yaml:"modules"`
}

// New builds a Registry from the given modules and validates it:
// unique names, all dependencies declared, no dependency cycles.
func New(modules []model.Module) (*Registry, error) {
	if len(modules) == 0 {
		return nil, ErrNoModules
	}

	byName := make(map[string]model.Module, len(modules))
	for _, m := range modules {
		if _, exists := byName[m.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name)
		}
		byName[m.Name] = m
	}

	// Every dependency must itself be a registry entry.
	for _, m := range modules {
		for _, dep := range m.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on %q", ErrUndeclaredDependency, m.Name, dep)
			}
		}
	}

	r := &Registry{modules: byName}
	if err := r.checkCycles(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile reads a registry from a YAML file and validates it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided registry path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}

	r, err := New(f.Modules)
	if err != nil {
		return nil, fmt.Errorf("invalid registry file %s: %w", path, err)
	}
	return r, nil
}

// Resolve returns the module registered under name.
// Returns ErrUnknownModule if no such entry exists.
func (r *Registry) Resolve(name string) (model.Module, error) {
	m, ok := r.modules[name]
	if !ok {
		return model.Module{}, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return m, nil
}

// ListActive returns all non-disabled modules sorted by name.
func (r *Registry) ListActive() []model.Module {
	active := make([]model.Module, 0, len(r.modules))
	for _, m := range r.modules {
		if !m.Disabled {
			active = append(active, m)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	return active
}

// Len returns the number of registered modules, disabled included.
func (r *Registry) Len() int {
	return len(r.modules)
}

// checkCycles runs a depth-first search over the dependency
// graph with three-color marking. Any back edge is a cycle, reported with
// the module that closes it.
func (r *Registry) checkCycles() error {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully explored
	)

	color := make(map[string]int, len(r.modules))

	// Sorted iteration keeps the reported cycle deterministic.
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, dep := range r.modules[name].Dependencies {
			switch color[dep] {
			case gray:
				return fmt.Errorf("%w: %q -> %q", ErrDependencyCycle, name, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for _, name := range names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
