// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kadirpekel/hookd/pkg/hooks"
)

// Registry maps capability type labels to implementations.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Capability
}

// NewRegistry creates a registry pre-populated with the given capabilities.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{items: make(map[string]Capability)}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a capability under its Type label.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("capability cannot be nil")
	}
	label := c.Type()
	if label == "" {
		return fmt.Errorf("capability type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[label]; exists {
		return fmt.Errorf("capability '%s' already registered", label)
	}
	r.items[label] = c
	return nil
}

// Get returns the capability registered under label.
func (r *Registry) Get(label string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[label]
	return c, ok
}

// Resolve returns the capability for a hook definition or a configuration
// error naming the unknown label.
func (r *Registry) Resolve(def hooks.Definition) (Capability, error) {
	c, ok := r.Get(def.Type)
	if !ok {
		return nil, &hooks.ConfigurationError{
			HookID: def.ID,
			Reason: fmt.Sprintf("no capability registered for type %q", def.Type),
			Err:    hooks.ErrUnknownCapability,
		}
	}
	return c, nil
}

// Labels returns the registered labels sorted alphabetically.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	labels := make([]string, 0, len(r.items))
	for label := range r.items {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// All returns the registered capabilities ordered by label.
func (r *Registry) All() []Capability {
	labels := r.Labels()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(labels))
	for _, label := range labels {
		if c, ok := r.items[label]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Remove deletes the capability registered under label.
func (r *Registry) Remove(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[label]; !exists {
		return fmt.Errorf("capability '%s' not found", label)
	}
	delete(r.items, label)
	return nil
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
