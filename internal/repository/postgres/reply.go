package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach-tracker/internal/domain"
)

// ReplyRepo implements reply.Repository against PostgreSQL.
type ReplyRepo struct{ db *sql.DB }

// NewReplyRepo creates a Postgres-backed reply repository.
func NewReplyRepo(db *sql.DB) *ReplyRepo { return &ReplyRepo{db: db} }

// Save relies on the unique inbound_message_id; a redelivered reply hits
// ON CONFLICT and reports inserted=false.
func (r *ReplyRepo) Save(ctx context.Context, rec *domain.ReplyRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_replies
			(id, inbound_message_id, correlation_id, campaign_id, from_address, to_address, subject, body, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (inbound_message_id) DO NOTHING
	`, rec.ID, rec.InboundMessageID, rec.CorrelationID, rec.CampaignID,
		rec.From, rec.To, rec.Subject, rec.Body, rec.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("save reply: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *ReplyRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]domain.ReplyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, inbound_message_id, correlation_id, campaign_id, from_address, to_address,
		       subject, body, received_at
		FROM outreach_replies
		WHERE correlation_id = $1
		ORDER BY received_at
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var out []domain.ReplyRecord
	for rows.Next() {
		var rec domain.ReplyRecord
		if err := rows.Scan(&rec.ID, &rec.InboundMessageID, &rec.CorrelationID, &rec.CampaignID,
			&rec.From, &rec.To, &rec.Subject, &rec.Body, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
