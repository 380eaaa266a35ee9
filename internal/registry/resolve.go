package registry

import (
	"fmt"
	"sort"

	"github.com/reconflow/reconflow/internal/model"
)

// Expand resolves the full module set required to run the requested set
// correctly: the requested modules plus every transitive dependency.
//
// Algorithm: iteratively union each member's dependencies into the working
// set until a fixed point. The registry rejects cyclic catalogs at load
// time, so the loop always terminates, and the operation is idempotent:
// Expand(Expand(S)) == Expand(S), and S is always a subset of Expand(S).
//
// Returns ErrUnknownModule if any requested name is absent from the
// registry. Disabled modules may still be expanded; filtering them is a
// caller policy, not a resolution rule.
func (r *Registry) Expand(requested []string) ([]string, error) {
	resolved := make(map[string]bool, len(requested))

	for _, name := range requested {
		if _, err := r.Resolve(name); err != nil {
			return nil, fmt.Errorf("cannot expand module set: %w", err)
		}
		resolved[name] = true
	}

	// Fixed-point iteration. Each pass adds at least one new module or
	// stops, so the loop is bounded by the registry size.
	for changed := true; changed; {
		changed = false
		for name := range resolved {
			m := r.modules[name]
			for _, dep := range m.Dependencies {
				if !resolved[dep] {
					resolved[dep] = true
					changed = true
				}
			}
		}
	}

	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Producers returns the producer modules within the given resolved set,
// sorted by name. The orchestrator launches these before consumers so the
// stream and consumer groups exist when consumers start reading.
func (r *Registry) Producers(resolved []string) []model.Module {
	producers := make([]model.Module, 0, 1)
	for _, name := range resolved {
		if m, ok := r.modules[name]; ok && m.Producer {
			producers = append(producers, m)
		}
	}
	sort.Slice(producers, func(i, j int) bool { return producers[i].Name < producers[j].Name })
	return producers
}

// Consumers returns the consumer-only modules within the given resolved
// set, sorted by name. Modules that are both producer and consumer are
// returned by Producers, not here; they launch in the producer phase.
func (r *Registry) Consumers(resolved []string) []model.Module {
	consumers := make([]model.Module, 0, len(resolved))
	for _, name := range resolved {
		if m, ok := r.modules[name]; ok && m.Consumer && !m.Producer {
			consumers = append(consumers, m)
		}
	}
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].Name < consumers[j].Name })
	return consumers
}
