package ratelimit

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRoute is the route id used when no configured prefix matches.
const DefaultRoute = "default"

const defaultMaxDistinctKeys = 10000

// RouteConfig bounds traffic on one route prefix.
type RouteConfig struct {
	Window          time.Duration `yaml:"window"`
	MaxRequests     int           `yaml:"max_requests"`
	MaxDistinctKeys int           `yaml:"max_distinct_keys"`
}

func (c RouteConfig) validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive")
	}
	if c.MaxDistinctKeys < 0 {
		return fmt.Errorf("max_distinct_keys must not be negative")
	}
	return nil
}

func (c RouteConfig) withDefaults() RouteConfig {
	if c.MaxDistinctKeys == 0 {
		c.MaxDistinctKeys = defaultMaxDistinctKeys
	}
	return c
}

type route struct {
	prefix string
	cfg    RouteConfig
}

// RouteTable resolves a request path to its route config by longest prefix.
type RouteTable struct {
	routes   []route
	fallback RouteConfig
}

// NewRouteTable validates the configs and orders prefixes longest first.
func NewRouteTable(routes map[string]RouteConfig, fallback RouteConfig) (*RouteTable, error) {
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("default route: %w", err)
	}

	t := &RouteTable{fallback: fallback.withDefaults()}
	for prefix, cfg := range routes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return nil, fmt.Errorf("empty route prefix")
		}
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", prefix, err)
		}
		t.routes = append(t.routes, route{prefix: prefix, cfg: cfg.withDefaults()})
	}

	sort.Slice(t.routes, func(i, j int) bool {
		if len(t.routes[i].prefix) != len(t.routes[j].prefix) {
			return len(t.routes[i].prefix) > len(t.routes[j].prefix)
		}
		return t.routes[i].prefix < t.routes[j].prefix
	})

	return t, nil
}

// Match returns the route id and config for path.
func (t *RouteTable) Match(path string) (string, RouteConfig) {
	for _, r := range t.routes {
		if matchesPrefix(path, r.prefix) {
			return r.prefix, r.cfg
		}
	}
	return DefaultRoute, t.fallback
}

// matchesPrefix reports whether path is prefix or lies below it, so
// /api/v1/tasks covers /api/v1/tasks/1 but not /api/v1/tasksfoo.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// DefaultFallback is applied to paths no prefix matches: 10 requests per minute.
func DefaultFallback() RouteConfig {
	return RouteConfig{Window: time.Minute, MaxRequests: 10, MaxDistinctKeys: defaultMaxDistinctKeys}
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() *RouteTable {
	t, err := NewRouteTable(map[string]RouteConfig{
		"/api/v1/auth":          {Window: 15 * time.Minute, MaxRequests: 5},
		"/api/v1/assistant":     {Window: time.Minute, MaxRequests: 10},
		"/api/v1/tasks":         {Window: time.Minute, MaxRequests: 100},
		"/api/v1/projects":      {Window: time.Minute, MaxRequests: 60},
		"/api/v1/categories":    {Window: time.Minute, MaxRequests: 60},
		"/api/v1/dashboard":     {Window: time.Minute, MaxRequests: 60},
		"/api/v1/notifications": {Window: time.Minute, MaxRequests: 120},
		"/api/cron":             {Window: time.Minute, MaxRequests: 10, MaxDistinctKeys: 100},
	}, DefaultFallback())
	if err != nil {
		panic(err)
	}
	return t
}

type routesFile struct {
	Default *RouteConfig           `yaml:"default"`
	Routes  map[string]RouteConfig `yaml:"routes"`
}

// LoadRoutesFile reads a YAML route table:
//
//	default: {window: 1m, max_requests: 10}
//	routes:
//	  /api/v1/assistant: {window: 1m, max_requests: 3}
func LoadRoutesFile(path string) (*RouteTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutes(b)
}

// ParseRoutes decodes a YAML route table.
func ParseRoutes(b []byte) (*RouteTable, error) {
	var f routesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}

	fallback := DefaultFallback()
	if f.Default != nil {
		fallback = *f.Default
	}
	return NewRouteTable(f.Routes, fallback)
}
