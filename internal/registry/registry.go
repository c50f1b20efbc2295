// Package registry maps "module:Name" references to catalog factories, so
// configuration files and the serve command can name a catalog by string.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/scigolib/h5catalog"
)

// Factory builds a catalog from configuration arguments.
type Factory func(ctx context.Context, args map[string]any) (*h5catalog.Adapter, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// ValidName reports whether name has the form "module:Attr".
func ValidName(name string) bool {
	mod, attr, ok := strings.Cut(name, ":")
	return ok && mod != "" && attr != "" && !strings.ContainsAny(attr, ": ")
}

// Register makes a factory available under name. It panics if name is
// malformed, f is nil or name is already taken; registration happens in
// init functions where these are programming errors.
func Register(name string, f Factory) {
	if !ValidName(name) {
		panic(fmt.Sprintf("registry: malformed name %q", name))
	}
	if f == nil {
		panic("registry: nil factory for " + name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic("registry: duplicate name " + name)
	}
	factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown catalog %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names returns the registered names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build looks up name and calls its factory.
func Build(ctx context.Context, name string, args map[string]any) (*h5catalog.Adapter, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	a, err := f(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}

// String returns args[key] as a string, or def when the key is absent.
func String(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: want string, got %T", key, v)
	}
	return s, nil
}

// Int returns args[key] as an int64, or def when the key is absent.
// YAML and JSON decoders produce int, int64, uint64 or float64.
func Int(args map[string]any, key string, def int64) (int64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil //nolint:gosec // G115: config values are small
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("argument %q: %v is not an integer", key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("argument %q: want integer, got %T", key, v)
	}
}
