package registry

import (
	"errors"
	"fmt"
)

// ErrUnknownClass indicates a class path that is neither registered nor
// redirected to a registered class.
var ErrUnknownClass = errors.New("unknown class")

// maxRedirectHops bounds redirect chains so a cycle can't loop forever.
const maxRedirectHops = 8

// Classes resolves stored class paths to spawnable classes.
//
// A class that was renamed or moved keeps loading through a redirect from its
// old path. Redirects may chain; resolution follows at most a few hops.
type Classes struct {
	known     *Registry[string, struct{}]
	redirects *Registry[string, string]
}

// NewClasses creates an empty class registry.
func NewClasses() *Classes {
	return &Classes{
		known:     New[string, struct{}](),
		redirects: New[string, string](),
	}
}

// Register declares a spawnable class path.
func (c *Classes) Register(paths ...string) {
	for _, p := range paths {
		c.known.Register(p, struct{}{})
	}
}

// Redirect maps an old class path to its replacement.
func (c *Classes) Redirect(from, to string) {
	c.redirects.Register(from, to)
}

// RedirectMany adds every entry of m as a redirect.
func (c *Classes) RedirectMany(m map[string]string) {
	for from, to := range m {
		c.redirects.Register(from, to)
	}
}

// Known reports whether path is registered directly.
func (c *Classes) Known(path string) bool {
	return c.known.Has(path)
}

// Resolve returns the registered class path for a stored path.
func (c *Classes) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty class path", ErrUnknownClass)
	}

	current := path
	for hop := 0; hop <= maxRedirectHops; hop++ {
		if c.known.Has(current) {
			return current, nil
		}
		next, ok := c.redirects.Get(current)
		if !ok {
			break
		}
		current = next
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownClass, path)
}
