package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog"
	"github.com/scigolib/h5catalog/internal/h5test"
	"github.com/scigolib/h5catalog/internal/registry"
)

func memoryFactory(t *testing.T) registry.Factory {
	data := h5test.MustBuild(t, h5test.V2, &h5test.Group{Members: []h5test.Node{&h5test.Group{Name: "raw"}}})
	return func(_ context.Context, args map[string]any) (*h5catalog.Adapter, error) {
		name, err := registry.String(args, "name", "memory")
		if err != nil {
			return nil, err
		}
		return h5catalog.New(name, data)
	}
}

func TestRegisterAndBuild(t *testing.T) {
	registry.Register("regtest:Memory", memoryFactory(t))

	assert.Contains(t, registry.Names(), "regtest:Memory")

	cat, err := registry.Build(context.Background(), "regtest:Memory", map[string]any{"name": "scan"})
	require.NoError(t, err)
	defer cat.Close()
	assert.Equal(t, []string{"raw"}, cat.Keys())
	assert.Equal(t, "scan", cat.Source().URL)

	_, err = registry.Build(context.Background(), "regtest:Memory", map[string]any{"name": 3})
	assert.ErrorContains(t, err, `argument "name"`)

	assert.Panics(t, func() { registry.Register("regtest:Memory", memoryFactory(t)) })
	assert.Panics(t, func() { registry.Register("no-colon", memoryFactory(t)) })
	assert.Panics(t, func() { registry.Register("regtest:Nil", nil) })
}

func TestLookupUnknown(t *testing.T) {
	registry.Register("regtest:Known", func(context.Context, map[string]any) (*h5catalog.Adapter, error) {
		return nil, errors.New("boom")
	})

	_, err := registry.Lookup("regtest:Unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regtest:Known")

	_, err = registry.Build(context.Background(), "regtest:Known", nil)
	assert.ErrorContains(t, err, "regtest:Known: boom")
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"nexus:catalog":   true,
		"mod.sub:Catalog": true,
		":Catalog":        false,
		"nexus:":          false,
		"nexus":           false,
		"a:b:c":           false,
		"a:b c":           false,
	}
	for name, want := range tests {
		assert.Equal(t, want, registry.ValidName(name), name)
	}
}

func TestArgs(t *testing.T) {
	args := map[string]any{"s": "x", "i": 3, "i64": int64(4), "u": uint64(5), "f": 6.0, "frac": 1.5, "bad": []int{}}

	s, err := registry.String(args, "s", "d")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
	s, err = registry.String(args, "missing", "d")
	require.NoError(t, err)
	assert.Equal(t, "d", s)

	for key, want := range map[string]int64{"i": 3, "i64": 4, "u": 5, "f": 6, "missing": 7} {
		n, err := registry.Int(args, key, 7)
		require.NoError(t, err, key)
		assert.Equal(t, want, n, key)
	}
	_, err = registry.Int(args, "frac", 0)
	assert.Error(t, err)
	_, err = registry.Int(args, "bad", 0)
	assert.Error(t, err)
}
