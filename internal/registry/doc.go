// Package registry provides the module registry: the single authoritative
// catalog of worker modules and the dependency resolver built on top of it.
//
// Every other component resolves module names, dependencies, and launch
// descriptors through this package. Nothing else in the codebase hard-codes
// per-module configuration, so adding a module is one registry entry, not an
// edit in N places.
//
// The registry is read-only at runtime. Structural problems in the catalog
// (duplicate names, unknown dependencies, dependency cycles) are detected
// when the registry is loaded, never deferred to resolve time.
package registry
