package vm

import "sort"

// GlobalName is the name under which a derived Env sees its prototype
const GlobalName = "global"

// Env is a script namespace. Top-level shreds get their own Env derived from
// the VM prototype; forked shreds share their parent's.
type Env struct {
	vars  map[string]any
	proto *Env
}

// NewEnv returns an empty namespace with no prototype
func NewEnv() *Env {
	return &Env{vars: make(map[string]any)}
}

// Get looks a name up in this namespace only
func (e *Env) Get(name string) (any, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Set binds name in this namespace
func (e *Env) Set(name string, v any) {
	e.vars[name] = v
}

// Delete unbinds name
func (e *Env) Delete(name string) {
	delete(e.vars, name)
}

// Names returns the bound names, sorted
func (e *Env) Names() []string {
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Derive copies every binding into a fresh Env whose "global" is e
func (e *Env) Derive() *Env {
	d := &Env{vars: make(map[string]any, len(e.vars)+1), proto: e}
	for k, v := range e.vars {
		d.vars[k] = v
	}
	d.vars[GlobalName] = e
	return d
}

// Global returns the shared prototype, or e itself if it has none
func (e *Env) Global() *Env {
	if e.proto != nil {
		return e.proto
	}
	return e
}
