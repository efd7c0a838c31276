package persona

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateID reports two catalogue entries sharing an identifier.
var ErrDuplicateID = errors.New("duplicate persona id")

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// Registry is the read-only persona catalogue. It is safe for concurrent use
// because nothing mutates it after NewRegistry returns.
type Registry struct {
	items []Persona
	index map[string]int
}

var _ Store = (*Registry)(nil)

// NewRegistry validates and indexes the supplied personas, preserving order.
func NewRegistry(items []Persona) (*Registry, error) {
	r := &Registry{
		items: make([]Persona, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for i, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("persona at position %d has an empty id", i)
		}
		if _, exists := r.index[id]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		item.ID = id
		if strings.TrimSpace(item.Name) == "" {
			item.Name = id
		}
		r.index[id] = len(r.items)
		r.items = append(r.items, item.clone())
	}
	return r, nil
}

// MustRegistry is NewRegistry for compile-time catalogues such as Seed.
func MustRegistry(items []Persona) *Registry {
	r, err := NewRegistry(items)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns the catalogue in insertion order.
func (r *Registry) List() []Persona {
	out := make([]Persona, len(r.items))
	for i, item := range r.items {
		out[i] = item.clone()
	}
	return out
}

// Get looks up a persona by identifier.
func (r *Registry) Get(id string) (Persona, bool) {
	idx, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return Persona{}, false
	}
	return r.items[idx].clone(), true
}

// FindByID is Get under the Store name used by the handlers.
func (r *Registry) FindByID(id string) (Persona, bool) {
	return r.Get(id)
}

// Position reports the catalogue order of a persona, or -1.
func (r *Registry) Position(id string) int {
	idx, ok := r.index[id]
	if !ok {
		return -1
	}
	return idx
}

// Len returns the number of personas.
func (r *Registry) Len() int {
	return len(r.items)
}
