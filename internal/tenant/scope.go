// Package tenant carries the business a request is confined to.
//
// A Scope is a plain value. It is derived once per request from a verified
// token claim and passed explicitly into every repository and service call;
// nothing in this package keeps process-wide state. The zero Scope is "not
// set" and every consumer must treat it as a hard failure.
package tenant

import (
	"errors"
	"strings"
)

var (
	// ErrScopeNotSet is returned when a tenant-owned entity is touched
	// without an established scope.
	ErrScopeNotSet = errors.New("tenant scope not set")
	// ErrCrossTenant marks an attempt to act on another business. Callers
	// surface it exactly like a missing row.
	ErrCrossTenant = errors.New("cross-tenant reference")
	// ErrBusinessRequired is returned when an unscoped caller writes without
	// naming the target business.
	ErrBusinessRequired = errors.New("business_id is required for platform operators")
)

type Scope struct {
	businessID string
	unscoped   bool
}

// ForBusiness binds a scope to one business. An empty id yields a scope that
// is not set.
func ForBusiness(businessID string) Scope {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return Scope{}
	}
	return Scope{businessID: businessID}
}

// Unscoped is reserved for verified platform operators.
func Unscoped() Scope {
	return Scope{unscoped: true}
}

func (s Scope) IsSet() bool {
	return s.unscoped || s.businessID != ""
}

func (s Scope) IsUnscoped() bool {
	return s.unscoped
}

// BusinessID returns the bound business, or "" for an unscoped or unset scope.
func (s Scope) BusinessID() string {
	return s.businessID
}

func (s Scope) Check() error {
	if !s.IsSet() {
		return ErrScopeNotSet
	}
	return nil
}

// Allows reports whether a row owned by businessID is visible in this scope.
func (s Scope) Allows(businessID string) bool {
	if s.unscoped {
		return true
	}
	return s.businessID != "" && s.businessID == businessID
}

// Filter returns the business to filter list queries on. all is true for
// unscoped callers, in which case no filter applies.
func (s Scope) Filter() (businessID string, all bool, err error) {
	if !s.IsSet() {
		return "", false, ErrScopeNotSet
	}
	if s.unscoped {
		return "", true, nil
	}
	return s.businessID, false, nil
}

// Target resolves the business a write lands in. A bound scope always writes
// into its own business; naming a different one is a cross-tenant reference.
// An unscoped caller has to name the business explicitly.
func (s Scope) Target(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if !s.IsSet() {
		return "", ErrScopeNotSet
	}
	if s.unscoped {
		if requested == "" {
			return "", ErrBusinessRequired
		}
		return requested, nil
	}
	if requested != "" && requested != s.businessID {
		return "", ErrCrossTenant
	}
	return s.businessID, nil
}

// Narrow returns a scope bound to businessID if the receiver may see it.
// Coordinated operations use it so that every reference they validate has to
// live in the same business as the record being written.
func (s Scope) Narrow(businessID string) (Scope, error) {
	if !s.IsSet() {
		return Scope{}, ErrScopeNotSet
	}
	if !s.Allows(businessID) {
		return Scope{}, ErrCrossTenant
	}
	return ForBusiness(businessID), nil
}

func (s Scope) String() string {
	switch {
	case s.unscoped:
		return "unscoped"
	case s.businessID != "":
		return "business:" + s.businessID
	default:
		return "unset"
	}
}
