package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"casevault/backend/pkg/models"
)

// Schema creates the control-plane tables.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id        TEXT PRIMARY KEY,
	display_name     TEXT NOT NULL DEFAULT '',
	backend_location TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL CHECK (status IN ('provisioning', 'active', 'suspended')),
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	CHECK (status = 'provisioning' OR backend_location <> '')
);

CREATE TABLE IF NOT EXISTS tenant_memberships (
	principal_id TEXT NOT NULL,
	tenant_id    TEXT NOT NULL REFERENCES tenants (tenant_id),
	role         TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (principal_id, tenant_id)
);
`

const tenantColumns = `tenant_id, display_name, backend_location, status, created_at, updated_at`

// Postgres SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresDirectory is a PostgreSQL implementation of Repository.
type PostgresDirectory struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresDirectory creates a new PostgresDirectory.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db, now: time.Now}
}

// Migrate applies Schema.
func (s *PostgresDirectory) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the control-plane connection.
func (s *PostgresDirectory) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Lookup retrieves a tenant by id.
func (s *PostgresDirectory) Lookup(ctx context.Context, tenantID string) (*models.Tenant, error) {
	row := s.db.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE tenant_id = $1", tenantID)
	tenant, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("lookup tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

// Create inserts a provisioning tenant.
func (s *PostgresDirectory) Create(ctx context.Context, tenant *models.Tenant) error {
	now := s.now().UTC()
	tenant.Status = models.TenantStatusProvisioning
	tenant.BackendLocation = ""
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if err := tenant.Validate(); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx,
		"INSERT INTO tenants ("+tenantColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		tenant.ID, tenant.DisplayName, tenant.BackendLocation, string(tenant.Status), tenant.CreatedAt, tenant.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create tenant %s: %w", tenant.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create tenant %s: %w", tenant.ID, err)
	}
	return nil
}

// MarkActive transitions provisioning -> active.
func (s *PostgresDirectory) MarkActive(ctx context.Context, tenantID, backendLocation string) (*models.Tenant, error) {
	if strings.TrimSpace(backendLocation) == "" {
		return nil, errors.New("backend location is required")
	}

	row := s.db.QueryRow(ctx, `
		UPDATE tenants
		SET status = 'active', backend_location = $2, updated_at = $3
		WHERE tenant_id = $1 AND status = 'provisioning'
		RETURNING `+tenantColumns,
		tenantID, backendLocation, s.now().UTC(),
	)
	tenant, err := scanTenant(row)
	if errors.Is(err, ErrNotFound) {
		return nil, s.transitionError(ctx, tenantID, models.TenantStatusActive)
	}
	if err != nil {
		return nil, fmt.Errorf("activate tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

// Suspend transitions active -> suspended. An already suspended tenant keeps
// its original updated_at.
func (s *PostgresDirectory) Suspend(ctx context.Context, tenantID string) (*models.Tenant, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE tenants
		SET status = 'suspended',
		    updated_at = CASE WHEN status = 'suspended' THEN updated_at ELSE $2 END
		WHERE tenant_id = $1 AND status IN ('active', 'suspended')
		RETURNING `+tenantColumns,
		tenantID, s.now().UTC(),
	)
	tenant, err := scanTenant(row)
	if errors.Is(err, ErrNotFound) {
		return nil, s.transitionError(ctx, tenantID, models.TenantStatusSuspended)
	}
	if err != nil {
		return nil, fmt.Errorf("suspend tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

// ListMemberships returns every membership held by principalID.
func (s *PostgresDirectory) ListMemberships(ctx context.Context, principalID string) ([]models.Membership, error) {
	rows, err := s.db.Query(ctx,
		"SELECT principal_id, tenant_id, role FROM tenant_memberships WHERE principal_id = $1 ORDER BY tenant_id",
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []models.Membership
	for rows.Next() {
		var m models.Membership
		var role string
		if err := rows.Scan(&m.PrincipalID, &m.TenantID, &role); err != nil {
			return nil, err
		}
		if m.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// AddMembership inserts a membership row.
func (s *PostgresDirectory) AddMembership(ctx context.Context, membership models.Membership) error {
	role, err := models.ParseRole(string(membership.Role))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO tenant_memberships (principal_id, tenant_id, role, created_at) VALUES ($1, $2, $3, $4)",
		membership.PrincipalID, membership.TenantID, string(role), s.now().UTC(),
	)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("add membership %s/%s: %w", membership.PrincipalID, membership.TenantID, ErrAlreadyExists)
	case hasCode(err, foreignKeyViolation):
		return fmt.Errorf("tenant %s: %w", membership.TenantID, ErrNotFound)
	}
	return err
}

// transitionError distinguishes a missing tenant from a disallowed move.
func (s *PostgresDirectory) transitionError(ctx context.Context, tenantID string, to models.TenantStatus) error {
	current, err := s.Lookup(ctx, tenantID)
	if err != nil {
		return err
	}
	return fmt.Errorf("tenant %s %s -> %s: %w", tenantID, current.Status, to, ErrInvalidTransition)
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	var status string
	err := row.Scan(&t.ID, &t.DisplayName, &t.BackendLocation, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Status, err = models.ParseTenantStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
