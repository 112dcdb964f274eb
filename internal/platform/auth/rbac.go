package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// HasAtLeast reports whether any of roles ranks at or above required.
// Unknown required roles are never satisfied.
func HasAtLeast(roles []string, required string) bool {
	need := roleLevels[strings.ToLower(required)]
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleLevels[strings.ToLower(strings.TrimSpace(role))] >= need {
			return true
		}
	}
	return false
}

// RoleOverride sets the role needed for one method under a path prefix.
type RoleOverride struct {
	Method     string
	PathPrefix string
	Role       string
}

// RequiredRoleForRequest maps reads to viewer and everything else to editor.
// The first matching override wins.
func RequiredRoleForRequest(r *http.Request, overrides ...RoleOverride) string {
	for _, o := range overrides {
		if r.Method == o.Method && strings.HasPrefix(r.URL.Path, o.PathPrefix) {
			return o.Role
		}
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}

func MethodRoleAuthorizer(overrides ...RoleOverride) AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r, overrides...)) {
			return nil
		}
		return ErrForbidden
	}
}
