package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
)

// RecipientRepo implements recipient.Repository against PostgreSQL. Each
// transition is one UPDATE whose WHERE clause carries the precondition, so
// concurrent duplicate events serialize on the row lock and at most one of
// them matches.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `correlation_id, campaign_id, email, status, COALESCE(provider_message_id, ''),
		delivered, opened, opened_at, clicks, last_clicked_at, replied, last_reply_at,
		created_at, updated_at`

// transitionSQL holds the SET and WHERE fragments per transition.
// $1 is the correlation id, $2 the event time, $3 the provider message id.
var transitionSQL = map[domain.Transition]struct{ set, where string }{
	domain.TransitionSent: {
		set:   "status = 'sent', provider_message_id = COALESCE(NULLIF($3, ''), provider_message_id)",
		where: "status = 'pending'",
	},
	domain.TransitionDelivered: {
		set:   "status = 'delivered', delivered = TRUE",
		where: "status = 'sent'",
	},
	domain.TransitionBounced: {
		set:   "status = 'bounced'",
		where: "status IN ('sent', 'delivered')",
	},
	domain.TransitionComplained: {
		set:   "status = 'complained'",
		where: "status <> 'complained'",
	},
	domain.TransitionOpened: {
		set:   "opened = TRUE, opened_at = $2",
		where: "NOT opened",
	},
	domain.TransitionClicked: {
		set:   "clicks = clicks + 1, last_clicked_at = $2",
		where: "TRUE",
	},
	domain.TransitionReplied: {
		set:   "replied = TRUE, last_reply_at = $2",
		where: "NOT replied",
	},
}

func scanRecipient(row interface{ Scan(...any) error }) (*domain.RecipientRecord, error) {
	var (
		rec                          domain.RecipientRecord
		status                       string
		openedAt, clickedAt, replyAt sql.NullTime
	)
	err := row.Scan(
		&rec.CorrelationID, &rec.CampaignID, &rec.Email, &status, &rec.ProviderMessageID,
		&rec.Delivered, &rec.Opened, &openedAt, &rec.Clicks, &clickedAt, &rec.Replied, &replyAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.RecipientStatus(status)
	rec.OpenedAt = nullTime(openedAt)
	rec.LastClickedAt = nullTime(clickedAt)
	rec.LastReplyAt = nullTime(replyAt)
	return &rec, nil
}

func (r *RecipientRepo) Create(ctx context.Context, rec *domain.RecipientRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outreach_recipients (correlation_id, campaign_id, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.CorrelationID, rec.CampaignID, rec.Email, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if uniqueViolation(err) {
		return recipient.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create recipient: %w", err)
	}
	return nil
}

func (r *RecipientRepo) Get(ctx context.Context, correlationID string) (*domain.RecipientRecord, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx, `
		SELECT `+recipientColumns+`
		FROM outreach_recipients
		WHERE correlation_id = $1
	`, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recipient.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) ConditionalUpdate(ctx context.Context, correlationID string, u recipient.Update) (*domain.RecipientRecord, bool, error) {
	frag, ok := transitionSQL[u.Transition]
	if !ok {
		return nil, false, recipient.ErrInvalidTransition
	}
	q := fmt.Sprintf(`
		UPDATE outreach_recipients
		SET %s, updated_at = $2
		WHERE correlation_id = $1 AND %s
		RETURNING %s`, frag.set, frag.where, recipientColumns)

	args := []any{correlationID, u.At}
	if u.Transition == domain.TransitionSent {
		args = append(args, u.ProviderMessageID)
	}

	var rec *domain.RecipientRecord
	err := withRetry(ctx, "conditional_update", func() error {
		var err error
		rec, err = scanRecipient(r.db.QueryRowContext(ctx, q, args...))
		return err
	})
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("update recipient %s: %w", u.Transition, err)
	}

	// Precondition failed or the record doesn't exist; Get tells which.
	current, err := r.Get(ctx, correlationID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *RecipientRepo) ListByCampaign(ctx context.Context, campaignID string, f recipient.ListFilter) ([]domain.RecipientRecord, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := "campaign_id = $1"
	args := []any{campaignID}
	if f.Status != "" {
		where += " AND status = $2"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outreach_recipients WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM outreach_recipients
		WHERE %s
		ORDER BY created_at, email
		LIMIT $%d OFFSET $%d`, recipientColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientRecord
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}
