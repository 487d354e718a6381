package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, name, subject, html_body, text_body, sender_address, sender_name, reply_to,
		       sent_count, delivered_count, opened_count, clicked_count, bounced_count,
		       complained_count, replied_count, created_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.HTMLBody, &c.TextBody, &c.SenderAddress, &c.SenderName, &c.ReplyTo,
		&c.SentCount, &c.DeliveredCount, &c.OpenedCount, &c.ClickedCount, &c.BouncedCount,
		&c.ComplainedCount, &c.RepliedCount, &c.CreatedAt,
	)
	return c, err
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM outreach_campaigns
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outreach_campaigns`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM outreach_campaigns
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_campaigns
			(id, name, subject, html_body, text_body, sender_address, sender_name, reply_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.Name, c.Subject, c.HTMLBody, c.TextBody,
		c.SenderAddress, c.SenderName, c.ReplyTo, c.CreatedAt)
	if uniqueViolation(err) {
		return campaign.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// IncrementCounter bumps one aggregate column. The column name comes from
// a validated domain.Counter, never from request input.
func (r *CampaignRepo) IncrementCounter(ctx context.Context, id string, counter domain.Counter, n int) error {
	if !counter.Valid() {
		return campaign.ErrInvalidCounter
	}
	q := fmt.Sprintf(`UPDATE outreach_campaigns SET %[1]s = %[1]s + $1 WHERE id = $2`, counter)

	var affected int64
	err := withRetry(ctx, "increment_counter", func() error {
		res, err := r.db.ExecContext(ctx, q, n, id)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	if affected == 0 {
		return campaign.ErrNotFound
	}
	return nil
}
