// Package api implements the HTTP surface of the diagnostics service.
package api

import (
	"errors"
	"net/http"
	"strings"

	"vrpdiag/internal/auth"
)

var errNoCredentials = errors.New("missing bearer token")

// getPrincipal extracts tenant and role from the bearer token. In dev mode
// the X-Tenant-Id and X-Role headers are accepted instead, defaulting to an
// admin of t_demo.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		pr, err := s.Auth.Verify(r.Context(), authz[len("Bearer "):])
		if err != nil {
			return auth.Principal{}, err
		}
		pr.Tenant = normalizeTenantID(pr.Tenant)
		return pr, nil
	}
	if s.Auth != nil && s.Auth.Mode != auth.ModeDev {
		return auth.Principal{}, errNoCredentials
	}
	role := strings.ToLower(r.Header.Get("X-Role"))
	if role == "" {
		role = "admin"
	}
	return auth.Principal{Tenant: normalizeTenantID(r.Header.Get("X-Tenant-Id")), Role: role}, nil
}

// principal writes 401 and reports false when the caller is not authenticated.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return p, false
	}
	return p, true
}

func (s *Server) admin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}
