package store

import (
	"context"
	"errors"
	"fmt"
)

// Registry holds the namespaces served by a single Store.
type Registry struct {
	store  Store
	byName map[string]*Namespace
	order  []*Namespace
}

// NewRegistry creates one Namespace per policy. Names must be unique.
func NewRegistry(s Store, policies ...Policy) (*Registry, error) {
	if s == nil {
		return nil, errors.New("store: registry requires a store")
	}
	r := &Registry{
		store:  s,
		byName: make(map[string]*Namespace, len(policies)),
	}
	for _, policy := range policies {
		if _, dup := r.byName[policy.Name]; dup {
			return nil, fmt.Errorf("store: duplicate namespace %q", policy.Name)
		}
		ns, err := NewNamespace(s, policy)
		if err != nil {
			return nil, fmt.Errorf("store: namespace %q: %w", policy.Name, err)
		}
		r.byName[policy.Name] = ns
		r.order = append(r.order, ns)
	}
	return r, nil
}

// Store returns the backend shared by every namespace.
func (r *Registry) Store() Store {
	return r.store
}

// Namespace looks up a registered namespace by name.
func (r *Registry) Namespace(name string) (*Namespace, error) {
	ns, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("store: namespace %q is not configured", name)
	}
	return ns, nil
}

// All returns the namespaces in registration order.
func (r *Registry) All() []*Namespace {
	out := make([]*Namespace, len(r.order))
	copy(out, r.order)
	return out
}

// SweepAll sweeps every namespace and returns the total removed.
func (r *Registry) SweepAll(ctx context.Context, trigger string) int {
	total := 0
	for _, ns := range r.order {
		if ctx.Err() != nil {
			break
		}
		total += ns.Sweep(ctx, trigger)
	}
	return total
}

// Wait joins background sweeps of every namespace.
func (r *Registry) Wait() {
	for _, ns := range r.order {
		ns.Wait()
	}
}
