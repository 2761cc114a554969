// Package models defines the domain models shared by the tenant router.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TenantStatus represents the activation state of a tenant.
type TenantStatus string

const (
	TenantStatusProvisioning TenantStatus = "provisioning"
	TenantStatusActive       TenantStatus = "active"
	TenantStatusSuspended    TenantStatus = "suspended"
)

// ParseTenantStatus converts a raw status string, rejecting unknown values.
func ParseTenantStatus(s string) (TenantStatus, error) {
	switch st := TenantStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case TenantStatusProvisioning, TenantStatusActive, TenantStatusSuspended:
		return st, nil
	default:
		return "", fmt.Errorf("unknown tenant status %q", s)
	}
}

// Tenant is an isolated customer (law firm) with its own backend database.
type Tenant struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"display_name"`
	BackendLocation string       `json:"backend_location,omitempty"`
	Status          TenantStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsActive reports whether requests may be routed to the tenant.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Validate checks the record invariants.
func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("tenant id is required")
	}
	if _, err := ParseTenantStatus(string(t.Status)); err != nil {
		return err
	}
	if t.BackendLocation == "" && t.Status != TenantStatusProvisioning {
		return fmt.Errorf("tenant %s: backend location is required once %s", t.ID, t.Status)
	}
	return nil
}

// Public returns a copy safe to show to tenant members. The backend location
// is topology and never leaves the control plane.
func (t *Tenant) Public() Tenant {
	c := *t
	c.BackendLocation = ""
	return c
}
