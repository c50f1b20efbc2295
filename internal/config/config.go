// Package config loads the server configuration file.
//
// The file is YAML:
//
//	authentication:
//	  allow_anonymous_access: false
//	  single_user_api_key: ${H5CATALOG_API_KEY}
//	catalogs:
//	  - path: /
//	    catalog: nexus:Catalog
//	    args:
//	      url: https://example.org/scan.h5
//	server:
//	  address: ":8000"
//	  max_download_bytes: 0
//	  rate_limit: 0
//
// Files ending in .json or .jsonc hold the same document as JSON, with
// comments and trailing commas allowed.
//
// ${VAR} and ${VAR:-default} are expanded from the environment in string
// values, including catalog arguments.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/scigolib/h5catalog/internal/registry"
)

// DefaultAddress is the listen address when none is configured.
const DefaultAddress = ":8000"

// Config is the server configuration.
type Config struct {
	Authentication Authentication `yaml:"authentication"`
	Catalogs       []Catalog      `yaml:"catalogs"`
	Server         Server         `yaml:"server"`
}

// Authentication controls API access.
type Authentication struct {
	// AllowAnonymousAccess serves every request without a key.
	AllowAnonymousAccess bool `yaml:"allow_anonymous_access"`

	// SingleUserAPIKey is the key clients present when anonymous access
	// is off.
	SingleUserAPIKey string `yaml:"single_user_api_key"`
}

// Catalog mounts a registered catalog at a URL path.
type Catalog struct {
	Path    string         `yaml:"path"`
	Catalog string         `yaml:"catalog"`
	Args    map[string]any `yaml:"args"`
}

// Server configures the HTTP listener.
type Server struct {
	Address string `yaml:"address"`

	// MaxDownloadBytes caps catalog downloads; 0 is unbounded.
	MaxDownloadBytes int64 `yaml:"max_download_bytes"`

	// RateLimit is the sustained requests per second allowed per client;
	// 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the token bucket size; defaults to the rate rounded up.
	RateBurst int `yaml:"rate_burst"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, expands and validates a YAML document. JSON is accepted
// as a subset of YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = max(1, int(c.Server.RateLimit+0.999))
	}
	for i := range c.Catalogs {
		if c.Catalogs[i].Path == "" {
			c.Catalogs[i].Path = "/"
		}
		c.Catalogs[i].Path = cleanMount(c.Catalogs[i].Path)
	}
}

// cleanMount drops trailing slashes so "/a/" and "/a" collide.
func cleanMount(p string) string {
	if p == "/" {
		return p
	}
	return strings.TrimRight(p, "/")
}

func (c *Config) expandVariables() {
	c.Authentication.SingleUserAPIKey = expandVars(c.Authentication.SingleUserAPIKey)
	c.Server.Address = expandVars(c.Server.Address)
	for i := range c.Catalogs {
		c.Catalogs[i].Path = expandVars(c.Catalogs[i].Path)
		c.Catalogs[i].Catalog = expandVars(c.Catalogs[i].Catalog)
		for k, v := range c.Catalogs[i].Args {
			c.Catalogs[i].Args[k] = expandAny(v)
		}
	}
}

func expandAny(v any) any {
	switch x := v.(type) {
	case string:
		return expandVars(x)
	case []any:
		for i := range x {
			x[i] = expandAny(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = expandAny(x[k])
		}
	}
	return v
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors and reports all of them.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Catalogs) == 0 {
		errs = append(errs, errors.New("at least one catalog is required"))
	}
	seen := map[string]bool{}
	for i, cat := range c.Catalogs {
		if !strings.HasPrefix(cat.Path, "/") {
			errs = append(errs, fmt.Errorf("catalogs[%d]: path %q must start with /", i, cat.Path))
		}
		if seen[cat.Path] {
			errs = append(errs, fmt.Errorf("catalogs[%d]: path %q is mounted twice", i, cat.Path))
		}
		seen[cat.Path] = true
		if !registry.ValidName(cat.Catalog) {
			errs = append(errs, fmt.Errorf("catalogs[%d]: catalog %q must have the form module:Name", i, cat.Catalog))
		}
	}

	if !c.Authentication.AllowAnonymousAccess && c.Authentication.SingleUserAPIKey == "" {
		errs = append(errs, errors.New("authentication.single_user_api_key is required unless allow_anonymous_access is set"))
	}
	if c.Server.MaxDownloadBytes < 0 {
		errs = append(errs, errors.New("server.max_download_bytes must not be negative"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}

	return errors.Join(errs...)
}
