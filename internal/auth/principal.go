// Package auth provides authentication primitives for gatepass: the principal
// kinds that can call the API, password hashing, and JWT issuance/verification.
// See internal/middleware/auth.go for the request-time logic that uses them.
package auth

import (
	"errors"
	"strings"
)

// Kind identifies which account table a principal comes from
type Kind string

const (
	KindStudent       Kind = "student"
	KindAdmin         Kind = "admin"
	KindSecurityGuard Kind = "security_guard"
)

// Valid reports whether k is a known principal kind
func (k Kind) Valid() bool {
	switch k {
	case KindStudent, KindAdmin, KindSecurityGuard:
		return true
	}
	return false
}

// ParseKind accepts the canonical names plus the short "guard" alias
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return KindStudent, nil
	case "admin":
		return KindAdmin, nil
	case "security_guard", "guard":
		return KindSecurityGuard, nil
	}
	return "", errors.New("unknown principal kind: " + s)
}

// Principal is the authenticated caller of a request
type Principal struct {
	Kind  Kind   `json:"kind"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Is reports whether the principal is one of kinds
func (p Principal) Is(kinds ...Kind) bool {
	for _, k := range kinds {
		if p.Kind == k {
			return true
		}
	}
	return false
}
