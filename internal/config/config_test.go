package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("H5CATALOG_TEST_KEY", "secret")
	t.Setenv("H5CATALOG_TEST_URL", "https://example.org/scan.h5")

	path := writeFile(t, "config.yml", `
authentication:
  single_user_api_key: ${H5CATALOG_TEST_KEY}
catalogs:
  - path: /scans/
    catalog: nexus:Catalog
    args:
      url: ${H5CATALOG_TEST_URL}
      nested:
        - ${H5CATALOG_TEST_UNSET:-fallback}
  - catalog: nexus:catalog
server:
  rate_limit: 2.5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Authentication.AllowAnonymousAccess)
	assert.Equal(t, "secret", cfg.Authentication.SingleUserAPIKey)
	require.Len(t, cfg.Catalogs, 2)
	assert.Equal(t, "/scans", cfg.Catalogs[0].Path)
	assert.Equal(t, "https://example.org/scan.h5", cfg.Catalogs[0].Args["url"])
	assert.Equal(t, []any{"fallback"}, cfg.Catalogs[0].Args["nested"])
	assert.Equal(t, "/", cfg.Catalogs[1].Path)
	assert.Equal(t, config.DefaultAddress, cfg.Server.Address)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, 3, cfg.Server.RateBurst)
}

func TestLoad_JSONC(t *testing.T) {
	path := writeFile(t, "config.jsonc", `{
  // anonymous read access
  "authentication": {"allow_anonymous_access": true},
  "catalogs": [
    {"path": "/", "catalog": "nexus:Catalog", "args": {"max_bytes": 1048576}},
  ],
  "server": {"address": "127.0.0.1:9000", /* cap */ "max_download_bytes": 4096},
}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Authentication.AllowAnonymousAccess)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, int64(4096), cfg.Server.MaxDownloadBytes)
	assert.Equal(t, 1048576, cfg.Catalogs[0].Args["max_bytes"])
}

func TestLoad_Missing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "syntax",
			doc:  "catalogs: [",
			want: []string{"parsing config"},
		},
		{
			name: "no catalogs",
			doc:  "authentication: {allow_anonymous_access: true}",
			want: []string{"at least one catalog"},
		},
		{
			name: "no key",
			doc:  `catalogs: [{catalog: "nexus:catalog"}]`,
			want: []string{"single_user_api_key is required"},
		},
		{
			name: "bad entries",
			doc: `
authentication: {allow_anonymous_access: true}
catalogs:
  - {path: relative, catalog: "nexus:catalog"}
  - {path: /a, catalog: nexus}
  - {path: /a/, catalog: "nexus:catalog"}
server: {max_download_bytes: -1, rate_limit: -2}
`,
			want: []string{
				`path "relative" must start with /`,
				`catalog "nexus" must have the form module:Name`,
				`path "/a" is mounted twice`,
				"max_download_bytes must not be negative",
				"rate_limit must not be negative",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}
