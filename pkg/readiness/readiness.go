// Package readiness implements a minimal health-checking mechanism for use
// as a k8s readiness probe. A component flips to ready once and stays ready;
// this is a startup gate, not a monitoring signal.
package readiness

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

type Component string

// Registry tracks a set of named components that must all report ready
// before the probe passes. One registry per daemon process.
type Registry struct {
	mu         sync.Mutex
	components map[Component]bool
}

func NewRegistry() *Registry {
	return &Registry{components: map[Component]bool{}}
}

// RegisterComponent adds a component to the set the probe waits for.
// Registering the same component twice is a programming error.
func (r *Registry) RegisterComponent(component Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[component]; ok {
		panic(fmt.Sprintf("component %q already registered", component))
	}
	r.components[component] = false
}

// SetReady marks a component as ready. Idempotent.
func (r *Registry) SetReady(component Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[component] = true
}

// Handler serves the probe: 200 OK once every registered component is ready,
// 412 Precondition Failed otherwise. The body lists per-component state as
// plain text for operator convenience, not for machine consumption.
func (r *Registry) Handler(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	names := make([]Component, 0, len(r.components))
	for k := range r.components {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	ready := true
	resp := new(bytes.Buffer)
	for _, k := range names {
		fmt.Fprintf(resp, "%s\t%v\n", k, r.components[k])
		if !r.components[k] {
			ready = false
		}
	}
	r.mu.Unlock()

	if !ready {
		w.WriteHeader(http.StatusPreconditionFailed)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = resp.WriteTo(w)
}
