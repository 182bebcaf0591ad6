package repository

import (
	"context"
	"errors"
	"time"

	"convopilot_backend/internal/conversation/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, lead_id, tenant_id, direction, content, provider_message_id,
	type, button_id, is_processed, ai_generated, status, was_read, campaign_stage, created_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.LeadID, &m.TenantID, &m.Direction, &m.Content, &m.ProviderMessageID,
		&m.Type, &m.ButtonID, &m.IsProcessed, &m.AIGenerated, &m.Status, &m.WasRead, &m.CampaignStage, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, ErrNotFound
		}
		return domain.Message{}, err
	}
	return m, nil
}

// InsertMessage records one turn. The provider message id is the
// idempotency key: redelivery of an already-recorded id returns (nil, nil).
func (r *Repository) InsertMessage(ctx context.Context, params InsertMessageParams) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (lead_id, tenant_id, direction, content, provider_message_id,
			type, button_id, ai_generated, status, campaign_stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING
		RETURNING `+messageColumns+`
	`, params.LeadID, params.TenantID, params.Direction, params.Content, params.ProviderMessageID,
		params.Type, params.ButtonID, params.AIGenerated, params.Status, params.CampaignStage)

	msg, err := scanMessage(row)
	if errors.Is(err, ErrNotFound) {
		// Duplicate delivery of a known provider id: already recorded.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessageByID loads one message scoped to its tenant.
func (r *Repository) GetMessageByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanMessage(row)
}

// GetMessageByProviderID loads a message by its externally-assigned id.
func (r *Repository) GetMessageByProviderID(ctx context.Context, tenantID uuid.UUID, providerID string) (domain.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE tenant_id = $1 AND provider_message_id = $2
	`, tenantID, providerID)
	return scanMessage(row)
}

// ListUnprocessedInbound returns the lead's unconsumed inbound messages in
// arrival order, the unit a burst pass works on.
func (r *Repository) ListUnprocessedInbound(ctx context.Context, leadID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE lead_id = $1 AND direction = 'INBOUND' AND is_processed = false
		ORDER BY created_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListRecentMessages returns the most recent turns oldest-first, for AI
// conversation history.
func (r *Repository) ListRecentMessages(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit < 1 {
		limit = 12
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM messages
			WHERE lead_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// LastInboundAt returns when the lead last wrote in, or nil if never.
func (r *Repository) LastInboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(created_at) FROM messages
		WHERE lead_id = $1 AND direction = 'INBOUND'
	`, leadID).Scan(&at)
	if err != nil {
		return nil, err
	}
	return at, nil
}

// MarkProcessed flags inbound messages as consumed by a burst pass.
func (r *Repository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_processed = true WHERE id = ANY($1)
	`, ids)
	return err
}

// UpdateDeliveryStatus reconciles a provider delivery receipt onto the
// pending message row.
func (r *Repository) UpdateDeliveryStatus(ctx context.Context, providerID string, status domain.DeliveryStatus, wasRead bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET status = $2, was_read = (was_read OR $3)
		WHERE provider_message_id = $1
	`, providerID, status, wasRead)
	return err
}

// SetProviderMessageID attaches the provider-assigned id to a pending
// outbound row after the worker's send succeeds.
func (r *Repository) SetProviderMessageID(ctx context.Context, id uuid.UUID, providerID string, status domain.DeliveryStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET provider_message_id = $2, status = $3
		WHERE id = $1
	`, id, providerID, status)
	return err
}

// MarkSendFailed flags a pending outbound row whose provider call failed
// permanently.
func (r *Repository) MarkSendFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET status = $2 WHERE id = $1
	`, id, domain.DeliveryFailed)
	return err
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.LeadID, &m.TenantID, &m.Direction, &m.Content, &m.ProviderMessageID,
			&m.Type, &m.ButtonID, &m.IsProcessed, &m.AIGenerated, &m.Status, &m.WasRead, &m.CampaignStage, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
