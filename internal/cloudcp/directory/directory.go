// Package directory maps public subdomains to tenant IDs for request routing.
// It is deliberately independent of the membership registry.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSubdomainTaken is returned when a subdomain already maps to another tenant.
	ErrSubdomainTaken = errors.New("directory: subdomain already registered")
	// ErrNotFound is returned when a subdomain has no entry.
	ErrNotFound = errors.New("directory: subdomain not registered")
)

// Entry is one subdomain registration.
type Entry struct {
	Subdomain string    `json:"subdomain"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory is the routing store consulted by request routing.
type Directory interface {
	// Register maps subdomain to tenantID. Registering the same pair twice
	// succeeds; a subdomain held by a different tenant yields ErrSubdomainTaken.
	Register(ctx context.Context, subdomain, tenantID string) error
	// Resolve returns the tenant ID for subdomain or ErrNotFound.
	Resolve(ctx context.Context, subdomain string) (string, error)
	// Remove deletes the entry for subdomain if it maps to tenantID.
	Remove(ctx context.Context, subdomain, tenantID string) error
	// List returns every entry.
	List(ctx context.Context) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
