// Package navigation holds the canonical route table and the per-route
// authorization requirements the navigation gate enforces.
package navigation

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
)

// LoginPath is where unauthenticated navigations are sent.
const LoginPath = "/login"

//go:embed routes.yaml
var defaultRoutes []byte

// Requirement is the set of authorization predicates attached to a route.
// Roles is open-ended: adding a role never requires touching the gate.
type Requirement struct {
	Auth  bool              `yaml:"auth"`
	Roles []domainauth.Role `yaml:"roles"`
}

// Route is a declared navigable path.
type Route struct {
	Path     string      `yaml:"path"`
	Name     string      `yaml:"name"`
	Requires Requirement `yaml:"requires"`
}

// Table is an immutable, versioned list of routes.
type Table struct {
	version int
	routes  []Route
	byPath  map[string]int
}

type tableDoc struct {
	Version int     `yaml:"version"`
	Routes  []Route `yaml:"routes"`
}

// Default returns the embedded route table.
func Default() *Table {
	t, err := Parse(defaultRoutes)
	if err != nil {
		panic(fmt.Sprintf("embedded route table: %v", err))
	}
	return t
}

// Load reads a YAML route table from r.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML route table.
func Parse(data []byte) (*Table, error) {
	var doc tableDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode route table: %w", err)
	}
	if doc.Version < 1 {
		return nil, errors.New("route table version must be >= 1")
	}
	if len(doc.Routes) == 0 {
		return nil, errors.New("route table has no routes")
	}

	t := &Table{
		version: doc.Version,
		routes:  make([]Route, 0, len(doc.Routes)),
		byPath:  make(map[string]int, len(doc.Routes)),
	}
	names := make(map[string]struct{}, len(doc.Routes))
	for i, rt := range doc.Routes {
		if err := normalizeRoute(&rt); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if _, dup := t.byPath[rt.Path]; dup {
			return nil, fmt.Errorf("route %d: duplicate path %q", i, rt.Path)
		}
		if _, dup := names[rt.Name]; dup {
			return nil, fmt.Errorf("route %d: duplicate name %q", i, rt.Name)
		}
		names[rt.Name] = struct{}{}
		t.byPath[rt.Path] = len(t.routes)
		t.routes = append(t.routes, rt)
	}
	if _, ok := t.byPath[LoginPath]; !ok {
		return nil, fmt.Errorf("route table must declare %s", LoginPath)
	}
	return t, nil
}

func normalizeRoute(rt *Route) error {
	if !strings.HasPrefix(rt.Path, "/") {
		return fmt.Errorf("path %q must start with /", rt.Path)
	}
	rt.Path = cleanPath(rt.Path)
	rt.Name = strings.TrimSpace(rt.Name)
	if rt.Name == "" {
		return fmt.Errorf("path %q has no name", rt.Path)
	}
	roles := make([]domainauth.Role, 0, len(rt.Requires.Roles))
	for _, r := range rt.Requires.Roles {
		parsed, ok := domainauth.ParseRole(string(r))
		if !ok {
			return fmt.Errorf("path %q: unknown role %q", rt.Path, r)
		}
		if !slices.Contains(roles, parsed) {
			roles = append(roles, parsed)
		}
	}
	rt.Requires.Roles = roles
	// A role can only be checked for a signed-in principal.
	if len(roles) > 0 {
		rt.Requires.Auth = true
	}
	return nil
}

// Version returns the table's declared version.
func (t *Table) Version() int { return t.version }

// Routes returns a copy of the routes in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, rt := range t.routes {
		rt.Requires.Roles = slices.Clone(rt.Requires.Roles)
		out[i] = rt
	}
	return out
}

// Match resolves p to its route. Paths below a declared route (e.g.
// /admin/user-management/users) inherit that route's requirements; the root
// route only matches exactly.
func (t *Table) Match(p string) (Route, bool) {
	p = cleanPath(p)
	for {
		if i, ok := t.byPath[p]; ok {
			return t.routes[i], true
		}
		if p == "/" {
			return Route{}, false
		}
		p = path.Dir(p)
		if p == "/" {
			return Route{}, false
		}
	}
}

// IsLogin reports whether p is the login path.
func IsLogin(p string) bool {
	return cleanPath(p) == LoginPath
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
