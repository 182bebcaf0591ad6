package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetActiveCampaign returns the tenant's single active campaign.
func (r *Repository) GetActiveCampaign(ctx context.Context, tenantID uuid.UUID) (Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, is_active, provider_token, provider_phone_id
		FROM campaigns
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID)
	return scanCampaign(row)
}

// GetCampaignByID loads one campaign scoped to its tenant.
func (r *Repository) GetCampaignByID(ctx context.Context, id, tenantID uuid.UUID) (Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, is_active, provider_token, provider_phone_id
		FROM campaigns
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanCampaign(row)
}

// GetFirstStage returns the campaign's opening stage.
func (r *Repository) GetFirstStage(ctx context.Context, campaignID uuid.UUID) (CampaignStage, error) {
	var s CampaignStage
	err := r.pool.QueryRow(ctx, `
		SELECT id, campaign_id, name, position, wait_minutes
		FROM campaign_stages
		WHERE campaign_id = $1
		ORDER BY position ASC
		LIMIT 1
	`, campaignID).Scan(&s.ID, &s.CampaignID, &s.Name, &s.Position, &s.WaitMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CampaignStage{}, ErrNotFound
		}
		return CampaignStage{}, err
	}
	return s, nil
}

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.IsActive, &c.ProviderToken, &c.ProviderPhoneID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

var _ ConversationRepository = (*Repository)(nil)
