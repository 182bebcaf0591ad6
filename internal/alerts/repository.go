package alerts

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder persists alerts.
type Recorder interface {
	Record(ctx context.Context, params RecordParams) (Alert, error)
}

// Lister reads recorded alerts back for the operator surface.
type Lister interface {
	ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]Alert, error)
}

// Repository is the pgx-backed alert store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an alert repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one alert.
func (r *Repository) Record(ctx context.Context, params RecordParams) (Alert, error) {
	var a Alert
	err := r.pool.QueryRow(ctx, `
		INSERT INTO alerts (tenant_id, severity, source, message, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, severity, source, message, detail, created_at
	`, params.TenantID, params.Severity, params.Source, params.Message, params.Detail).Scan(
		&a.ID, &a.TenantID, &a.Severity, &a.Source, &a.Message, &a.Detail, &a.CreatedAt)
	return a, err
}

// ListRecent returns the newest alerts, optionally scoped to one tenant.
func (r *Repository) ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]Alert, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, severity, source, message, detail, created_at
		FROM alerts
		WHERE $1::uuid IS NULL OR tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Alert, 0)
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Severity, &a.Source, &a.Message, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

var _ Recorder = (*Repository)(nil)
var _ Lister = (*Repository)(nil)
