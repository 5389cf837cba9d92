// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Registry maps storage implementation names to drivers. A program
// builds one at startup and hands it to whatever opens repositories;
// there is no process-wide registry.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry returns a registry holding drivers.
func NewRegistry(drivers ...Driver) (*Registry, error) {
	registry := &Registry{drivers: make(map[string]Driver, len(drivers))}
	for _, driver := range drivers {
		if err := registry.Register(driver); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a driver. Names must be unique.
func (r *Registry) Register(driver Driver) error {
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("registering storage driver with an empty name: %w", repoerr.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[name]; exists {
		return fmt.Errorf("storage implementation %q registered twice: %w", name, repoerr.ErrInvalidArgument)
	}
	r.drivers[name] = driver
	return nil
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	driver, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("storage implementation %q: %w", name, repoerr.ErrUnknownStorageImplementation)
	}
	return driver, nil
}

// Names returns the registered implementation names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Query answers a type 1 capability question.
func (r *Registry) Query(q Question) (Answer, error) {
	if !q.IsType1() {
		return Answer{}, fmt.Errorf("%s needs a storage implementation: %w", q, repoerr.ErrInvalidArgument)
	}
	switch q {
	case QuestionListImplementations:
		return Answer{Supported: true, Names: r.Names()}, nil
	default:
		return Answer{}, fmt.Errorf("%s: %w", q, repoerr.ErrNotSupported)
	}
}

// Driver resolves the descriptor's storage implementation.
func (r *Registry) Driver(descriptor Descriptor) (Driver, error) {
	if descriptor.Storage() == "" {
		return nil, fmt.Errorf("descriptor has no %q key: %w", KeyStorage, repoerr.ErrInvalidArgument)
	}
	return r.Lookup(descriptor.Storage())
}
