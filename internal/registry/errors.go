package registry

import "errors"

// Registry errors.
//
// Load-time errors (duplicate module, undeclared dependency, dependency
// cycle) indicate a broken catalog and fail fast before any run is accepted.
// ErrUnknownModule is the only request-time error: the caller asked for a
// name the catalog does not contain.
var (
	// ErrUnknownModule is returned when a requested module name is absent
	// from the registry.
	ErrUnknownModule = errors.New("unknown module: not present in registry")

	// ErrDuplicateModule is returned at load time when two entries share a
	// name. Names are the registry key and must be unique.
	ErrDuplicateModule = errors.New("duplicate module name in registry")

	// ErrUndeclaredDependency is returned at load time when a module
	// depends on a name that has no registry entry.
	ErrUndeclaredDependency = errors.New("module depends on undeclared module")

	// ErrDependencyCycle is returned at load time when the dependency
	// graph contains a cycle. A cyclic catalog can never be expanded into
	// a launch order.
	ErrDependencyCycle = errors.New("dependency cycle in module registry")

	// ErrNoModules is returned when a registry file declares no modules.
	ErrNoModules = errors.New("registry declares no modules")
)
