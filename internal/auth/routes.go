package auth

import (
	"net/http"
	"strings"
)

// Route grants a minimum role to requests under a path.
type Route struct {
	Path string
	// Methods restricts the match; empty matches every method.
	Methods []string
	Role    Role
	// QueryToken accepts ?access_token= since EventSource cannot set headers.
	QueryToken bool
}

func (rt Route) matches(r *http.Request) bool {
	if !underPath(r.URL.Path, rt.Path) {
		return false
	}
	if len(rt.Methods) == 0 {
		return true
	}
	for _, method := range rt.Methods {
		if r.Method == method {
			return true
		}
	}
	return false
}

// Policy maps requests to routes. The first matching route wins; requests
// matching no route pass through unauthenticated.
type Policy struct {
	Public []string
	Routes []Route
}

var readMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// NewRoomwatchPolicy returns the access table for the roomwatch API.
// Reads need a viewer, writes an operator, metrics an admin.
func NewRoomwatchPolicy(public ...string) Policy {
	return Policy{
		Public: public,
		Routes: []Route{
			{Path: "/metrics", Role: RoleAdmin},
			{Path: "/api/alerts/stream", Methods: readMethods, Role: RoleViewer, QueryToken: true},
			{Path: "/api", Methods: readMethods, Role: RoleViewer},
			{Path: "/api", Role: RoleOperator},
		},
	}
}

// Route resolves the access rule for a request.
func (p Policy) Route(r *http.Request) (Route, bool) {
	if r == nil || p.IsPublic(r) {
		return Route{}, false
	}
	for _, rt := range p.Routes {
		if rt.matches(r) {
			return rt, true
		}
	}
	return Route{}, false
}

// IsPublic reports whether a request skips authentication.
func (p Policy) IsPublic(r *http.Request) bool {
	for _, path := range p.Public {
		if underPath(r.URL.Path, path) {
			return true
		}
	}
	return false
}

// underPath matches path itself and anything below it.
func underPath(path, base string) bool {
	base = strings.TrimSuffix(base, "/")
	return path == base || strings.HasPrefix(path, base+"/")
}
