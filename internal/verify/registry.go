package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kuitang/handover-verify/internal/errs"
)

// Registry holds the scripts a runner can be asked for by name.
type Registry struct {
	scripts map[string]Script
	order   []string
}

// NewRegistry returns a registry holding scripts, in order.
func NewRegistry(scripts ...Script) (*Registry, error) {
	r := &Registry{scripts: make(map[string]Script, len(scripts))}
	for _, s := range scripts {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers s. Names are unique.
func (r *Registry) Add(s Script) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, exists := r.scripts[s.Name]; exists {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("script %q is already registered", s.Name))
	}
	r.scripts[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Lookup returns the named script.
func (r *Registry) Lookup(name string) (Script, bool) {
	s, ok := r.scripts[strings.TrimSpace(name)]
	return s, ok
}

// List returns every script in registration order.
func (r *Registry) List() []Script {
	out := make([]Script, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.scripts[name])
	}
	return out
}

// Select resolves names to scripts. No names selects everything.
func (r *Registry) Select(names []string) ([]Script, error) {
	if len(names) == 0 {
		return r.List(), nil
	}
	out := make([]Script, 0, len(names))
	var unknown []string
	for _, name := range names {
		s, ok := r.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, s)
	}
	if len(unknown) > 0 {
		known := append([]string(nil), r.order...)
		sort.Strings(known)
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown script(s) %s (known: %s)", strings.Join(unknown, ", "), strings.Join(known, ", ")))
	}
	return out, nil
}
