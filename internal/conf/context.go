package conf

import (
	"sync"
)

// Context bundles Settings together with the shared mutable resources that
// every pipeline component needs a handle to, the same way the teacher's
// internal/config.Context bundles Settings with its occurrence monitor and
// datastore handle. Subcommands take a *Context rather than reaching for
// package-level globals.
type Context struct {
	Settings *Settings

	mu        sync.RWMutex
	resources map[string]any
}

// NewContext builds a root Context around the given Settings.
func NewContext(settings *Settings) *Context {
	if settings == nil {
		settings = Defaults()
	}
	return &Context{
		Settings:  settings,
		resources: make(map[string]any),
	}
}

// PutResource registers a shared resource (ring buffer, event emitter,
// scheduler handle, ...) under a name so later-constructed components can
// look it up without a import cycle back to the component that built it.
func (c *Context) PutResource(name string, resource any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[name] = resource
}

// Resource returns a previously registered shared resource.
func (c *Context) Resource(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[name]
	return r, ok
}
