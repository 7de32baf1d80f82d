package core

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

var (
	ErrCampaignNotFound = errors.New("campaign_not_found")
	ErrLeadNotFound     = errors.New("lead_not_found")
	ErrContentNotFound  = errors.New("content_not_found")
)

// Overdue-count thresholds for QueueHealth. Operational policy, not an
// invariant; tune per deployment.
const (
	healthWarnOverdue     = 10
	healthCriticalOverdue = 100
)

// ErrorMessageLimit bounds stored per-entry error text.
const ErrorMessageLimit = 255

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	var c Campaign
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, status, recipient_timezone, created_at
		FROM campaigns WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &c.Status, &c.RecipientTimezone, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return Campaign{}, ErrCampaignNotFound
	}
	return c, err
}

func (s *Store) SetCampaignStatus(ctx context.Context, id uuid.UUID, status CampaignStatus) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$2, updated_at=now() WHERE id=$1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

func (s *Store) GetActiveLeads(ctx context.Context, batchID uuid.UUID) ([]Lead, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, batch_id, email, name, city, timezone
		FROM leads WHERE batch_id=$1 AND status='active'
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.BatchID, &l.Email, &l.Name, &l.City, &l.Timezone); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (Lead, error) {
	var l Lead
	err := s.DB.QueryRow(ctx, `
		SELECT id, batch_id, email, name, city, timezone
		FROM leads WHERE id=$1
	`, id).Scan(&l.ID, &l.BatchID, &l.Email, &l.Name, &l.City, &l.Timezone)
	if err == pgx.ErrNoRows {
		return Lead{}, ErrLeadNotFound
	}
	return l, err
}

// GetCampaignEmail returns the renderable subject/body for one touch.
func (s *Store) GetCampaignEmail(ctx context.Context, campaignID uuid.UUID, sendDay int) (subject, body string, err error) {
	err = s.DB.QueryRow(ctx, `
		SELECT subject, body FROM campaign_emails
		WHERE campaign_id=$1 AND send_day=$2
	`, campaignID, sendDay).Scan(&subject, &body)
	if err == pgx.ErrNoRows {
		return "", "", ErrContentNotFound
	}
	return subject, body, err
}

// InsertQueueEntries persists a population batch in one transaction. Rows that
// collide on (campaign_id, lead_id, send_day) are skipped, which makes repeated
// population of the same batch a no-op. Returns inserted counts per send day.
func (s *Store) InsertQueueEntries(ctx context.Context, entries []QueueEntry) (map[int]int, error) {
	counts := make(map[int]int)
	if len(entries) == 0 {
		return counts, nil
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`
			INSERT INTO campaign_send_queue
				(id, campaign_id, lead_id, recipient_email, recipient_name,
				 send_day, recipient_timezone, scheduled_for, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')
			ON CONFLICT (campaign_id, lead_id, send_day) DO NOTHING
		`, e.ID, e.CampaignID, e.LeadID, e.RecipientEmail, e.RecipientName,
			e.SendDay, e.RecipientTimezone, e.ScheduledFor)
	}

	br := tx.SendBatch(ctx, b)
	for _, e := range entries {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("insert queue entry: %w", err)
		}
		counts[e.SendDay] += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	return counts, tx.Commit(ctx)
}

// ClaimDue atomically moves up to limit due entries pending->processing for
// this owner using SKIP LOCKED, so concurrent dispatchers never claim the same
// row. Earliest scheduled_for first.
func (s *Store) ClaimDue(ctx context.Context, owner uuid.UUID, limit int, now time.Time) ([]QueueEntry, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE campaign_send_queue q
		SET status='processing', claim_owner=$1, claimed_at=now(), updated_at=now()
		FROM (
			SELECT id FROM campaign_send_queue
			WHERE status='pending' AND scheduled_for <= $2
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING q.id, q.campaign_id, q.lead_id, q.recipient_email, q.recipient_name,
		          q.send_day, q.recipient_timezone, q.scheduled_for, q.status,
		          q.retry_count, q.error_message, q.sent_at, q.created_at, q.updated_at
	`, owner, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.LeadID, &e.RecipientEmail, &e.RecipientName,
			&e.SendDay, &e.RecipientTimezone, &e.ScheduledFor, &e.Status,
			&e.RetryCount, &e.ErrorMessage, &e.SentAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaign_send_queue
		SET status='sent', sent_at=$2, error_message=NULL,
		    claim_owner=NULL, claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'
	`, id, sentAt)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaign_send_queue
		SET status='failed', error_message=$2,
		    claim_owner=NULL, claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'
	`, id, Truncate(errMsg, ErrorMessageLimit))
	return err
}

// Release returns a claimed entry to pending untouched. Used for entries that
// turn out not to be due yet and for dry-run passes.
func (s *Store) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaign_send_queue
		SET status='pending', claim_owner=NULL, claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND status='processing'
	`, id)
	return err
}

// ReleaseExpiredClaims requeues processing entries whose claim is older than
// ttl. Covers workers that died between claim and finalize; the entry becomes
// eligible again (at-least-once delivery).
func (s *Store) ReleaseExpiredClaims(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaign_send_queue
		SET status='pending', claim_owner=NULL, claimed_at=NULL, updated_at=now()
		WHERE status='processing' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RequeueFailed returns failed entries under the retry budget to pending,
// bumping retry_count and clearing the recorded error. scheduled_for is left
// alone: a retry means "try again now", not "try again at the original time".
func (s *Store) RequeueFailed(ctx context.Context, campaignID uuid.UUID, maxRetries int) (int, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaign_send_queue
		SET status='pending', retry_count=retry_count+1, error_message=NULL, updated_at=now()
		WHERE campaign_id=$1 AND status='failed' AND retry_count < $2
	`, campaignID, maxRetries)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CancelPending deletes the campaign's pending entries. Sent and failed rows
// are history and stay put.
func (s *Store) CancelPending(ctx context.Context, campaignID uuid.UUID) (int, error) {
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM campaign_send_queue
		WHERE campaign_id=$1 AND status='pending'
	`, campaignID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Cleanup reclaims terminal rows whose last update aged past the retention
// window. Failed rows are only removed once they exhausted the retry budget;
// pending rows are never touched here.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration, retryCeiling int) (CleanupResult, error) {
	var res CleanupResult
	cutoff := time.Now().UTC().Add(-retention)

	tag, err := s.DB.Exec(ctx, `
		DELETE FROM campaign_send_queue
		WHERE status='sent' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return res, err
	}
	res.SentRemoved = int(tag.RowsAffected())

	tag, err = s.DB.Exec(ctx, `
		DELETE FROM campaign_send_queue
		WHERE status='failed' AND retry_count >= $2 AND updated_at < $1
	`, cutoff, retryCeiling)
	if err != nil {
		return res, err
	}
	res.FailedRemoved = int(tag.RowsAffected())
	return res, nil
}

func (s *Store) CampaignStats(ctx context.Context, campaignID uuid.UUID) (CampaignStats, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT send_day, status, COUNT(*)
		FROM campaign_send_queue
		WHERE campaign_id=$1
		GROUP BY send_day, status
	`, campaignID)
	if err != nil {
		return CampaignStats{}, err
	}
	defer rows.Close()

	stats := CampaignStats{ByDay: make(map[int]DayStats)}
	for rows.Next() {
		var day, n int
		var status QueueStatus
		if err := rows.Scan(&day, &status, &n); err != nil {
			return CampaignStats{}, err
		}
		d := stats.ByDay[day]
		d.Total += n
		stats.Total += n
		switch status {
		case StatusSent:
			d.Sent += n
			stats.Sent += n
		case StatusFailed:
			d.Failed += n
			stats.Failed += n
		default: // pending or processing
			d.Pending += n
			stats.Pending += n
		}
		stats.ByDay[day] = d
	}
	return stats, rows.Err()
}

// QueueHealth reports global queue state. An entry is overdue once it has been
// pending past its scheduled_for by more than overdueAfter (one poll interval).
func (s *Store) QueueHealth(ctx context.Context, overdueAfter time.Duration) (QueueHealth, error) {
	var h QueueHealth
	cutoff := time.Now().UTC().Add(-overdueAfter)
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('pending','processing')),
		       COUNT(*) FILTER (WHERE status='pending' AND scheduled_for < $1)
		FROM campaign_send_queue
	`, cutoff).Scan(&h.Total, &h.Pending, &h.Overdue)
	if err != nil {
		return h, err
	}
	switch {
	case h.Overdue < healthWarnOverdue:
		h.Status = HealthOK
	case h.Overdue < healthCriticalOverdue:
		h.Status = HealthWarning
	default:
		h.Status = HealthCritical
	}
	return h, nil
}

// Truncate bounds s to max bytes without splitting a rune, used for stored
// error messages. Transport errors carry arbitrary upstream text; a mid-rune
// cut would produce invalid UTF-8, which Postgres rejects.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
