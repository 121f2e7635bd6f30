package ratelimit

import (
	"regexp"
	"strings"
)

// Logical operations with their own limits.
const (
	OperationCreate  = "alert.create"
	OperationDecide  = "alert.decide"
	OperationCancel  = "alert.cancel"
	OperationDefault = ""
)

const wildcardRole = "*"

var (
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
)

// NormalizePath replaces identifier segments with "*" so that every alert
// shares one key per endpoint.
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}

	parts := strings.Split(path, "/")
	for i, p := range parts {
		if uuidSegment.MatchString(p) || numericSegment.MatchString(p) || hexSegment.MatchString(p) {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, "/")
}

// Rule limits one operation for one role. Role "*" matches any role.
type Rule struct {
	Operation string
	Role      string
	Limit     int
}

type Policy struct {
	limits       map[string]int
	defaultLimit int
	trusted      map[string]bool
	bypassPaths  []string
	routes       map[string]string
}

func NewPolicy(rules []Rule, defaultLimit int, trusted, bypassPaths []string) *Policy {
	p := &Policy{
		limits:       make(map[string]int, len(rules)),
		defaultLimit: defaultLimit,
		trusted:      make(map[string]bool, len(trusted)),
		bypassPaths:  bypassPaths,
		routes: map[string]string{
			"POST /api/alerts":           OperationCreate,
			"POST /api/alerts/*/approve": OperationDecide,
			"POST /api/alerts/*/reject":  OperationDecide,
			"POST /api/alerts/*/cancel":  OperationCancel,
		},
	}
	for _, r := range rules {
		p.limits[r.Operation+"|"+strings.ToLower(r.Role)] = r.Limit
	}
	for _, id := range trusted {
		p.trusted[id] = true
	}
	return p
}

// Bypass reports whether the request skips limiting entirely.
func (p *Policy) Bypass(principal, path string) bool {
	if p.trusted[principal] {
		return true
	}
	path = NormalizePath(path)
	for _, bp := range p.bypassPaths {
		if path == bp || strings.HasPrefix(path, strings.TrimSuffix(bp, "/")+"/") {
			return true
		}
	}
	return false
}

// Operation maps a request to its logical operation.
func (p *Policy) Operation(method, normalizedPath string) string {
	return p.routes[strings.ToUpper(method)+" "+normalizedPath]
}

// Limit resolves the limit for operation and role: exact role, then the
// wildcard role, then the default.
func (p *Policy) Limit(operation, role string) int {
	if operation != OperationDefault {
		if n, ok := p.limits[operation+"|"+strings.ToLower(role)]; ok {
			return n
		}
		if n, ok := p.limits[operation+"|"+wildcardRole]; ok {
			return n
		}
	}
	return p.defaultLimit
}

// Key identifies one sliding window.
func Key(principal, method, normalizedPath string) string {
	return principal + " " + strings.ToUpper(method) + " " + normalizedPath
}
