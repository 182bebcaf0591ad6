package tenant

import (
	"context"
	"errors"

	"convopilot_backend/internal/conversation/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no tenant matches the lookup.
var ErrNotFound = errors.New("tenant not found")

// Reader provides read access to tenant data.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetByExternalPhoneID(ctx context.Context, externalPhoneID string) (Tenant, error)
	GetSettings(ctx context.Context, id uuid.UUID) (Settings, error)
	ListKeywords(ctx context.Context, id uuid.UUID) ([]domain.TakeoverKeyword, error)
}

// Repository is the pgx-backed tenant store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a tenant repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const tenantColumns = `id, name, external_phone_id, webhook_secret, availability_status, alert_email, provider_token, provider_phone_id, created_at`

// GetByID loads one tenant.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1
	`, id)
	return scanTenant(row)
}

// GetByExternalPhoneID resolves a tenant from the provider's phone number id.
func (r *Repository) GetByExternalPhoneID(ctx context.Context, externalPhoneID string) (Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE external_phone_id = $1
	`, externalPhoneID)
	return scanTenant(row)
}

// GetSettings loads the tenant's tunables with defaults applied.
func (r *Repository) GetSettings(ctx context.Context, id uuid.UUID) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `
		SELECT recovery_timeout_minutes, max_unanswered, demo_minutes,
		       COALESCE(opt_out_template, ''), COALESCE(template_language, '')
		FROM tenants
		WHERE id = $1
	`, id).Scan(&s.RecoveryTimeoutMinutes, &s.MaxUnanswered, &s.DemoMinutes, &s.OptOutTemplate, &s.TemplateLanguage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, err
	}
	s.ApplyDefaults()
	return s, nil
}

// ListKeywords returns the tenant's configured takeover/reactivation phrases.
func (r *Repository) ListKeywords(ctx context.Context, id uuid.UUID) ([]domain.TakeoverKeyword, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, phrase, source, category
		FROM takeover_keywords
		WHERE tenant_id = $1
		ORDER BY phrase ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keywords := make([]domain.TakeoverKeyword, 0)
	for rows.Next() {
		var kw domain.TakeoverKeyword
		if err := rows.Scan(&kw.ID, &kw.TenantID, &kw.Phrase, &kw.Source, &kw.Category); err != nil {
			return nil, err
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.ExternalPhoneID, &t.WebhookSecret, &t.AvailabilityStatus,
		&t.AlertEmail, &t.ProviderToken, &t.ProviderPhoneID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

var _ Reader = (*Repository)(nil)
