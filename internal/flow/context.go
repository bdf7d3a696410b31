// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package flow

import "sync"

// Context is the shared state passed between a flow's stages. Values live
// in per-stage namespaces: a stage writes through its own Scope handle and
// reads other stages' outputs explicitly by namespace. Ownership is carried
// by the handle, not by naming convention.
type Context struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

// NewContext creates an empty flow context.
func NewContext() *Context {
	return &Context{values: make(map[string]map[string]any)}
}

// Get reads key from the given namespace.
func (c *Context) Get(namespace, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.values[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Scope returns the write handle for namespace. The engine hands each stage
// the scope named after it; stages must not construct scopes for other
// stages' namespaces.
func (c *Context) Scope(namespace string) *Scope {
	return &Scope{ctx: c, namespace: namespace}
}

// Scope is a stage's write handle into its own namespace of the context.
type Scope struct {
	ctx       *Context
	namespace string
}

// Name returns the scope's namespace.
func (s *Scope) Name() string { return s.namespace }

// Set writes key in the scope's namespace.
func (s *Scope) Set(key string, value any) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	ns, ok := s.ctx.values[s.namespace]
	if !ok {
		ns = make(map[string]any)
		s.ctx.values[s.namespace] = ns
	}
	ns[key] = value
}

// Get reads key from the scope's own namespace.
func (s *Scope) Get(key string) (any, bool) {
	return s.ctx.Get(s.namespace, key)
}
