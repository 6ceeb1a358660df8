package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/domain"
)

const leadColumns = `id, agent_id, property_id, email, name, provider_thread_id,
	followup_enabled, followup_stage, followup_status, followup_next_at,
	stop_reason, fail_count, paused_until, max_stage_override,
	last_inbound_at, last_outbound_at, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var propertyID uuid.NullUUID
	var enabled sql.NullBool
	var nextAt, pausedUntil, lastIn, lastOut sql.NullTime
	var maxStage sql.NullInt64

	err := row.Scan(&l.ID, &l.AgentID, &propertyID, &l.Email, &l.Name,
		&l.ProviderThreadID, &enabled, &l.FollowupStage, &l.FollowupStatus,
		&nextAt, &l.StopReason, &l.FailCount, &pausedUntil, &maxStage,
		&lastIn, &lastOut, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if propertyID.Valid {
		v := propertyID.UUID
		l.PropertyID = &v
	}
	if enabled.Valid {
		v := enabled.Bool
		l.FollowupEnabled = &v
	}
	if nextAt.Valid {
		t := nextAt.Time
		l.FollowupNextAt = &t
	}
	if pausedUntil.Valid {
		t := pausedUntil.Time
		l.PausedUntil = &t
	}
	if maxStage.Valid {
		v := int(maxStage.Int64)
		l.MaxStageOverride = &v
	}
	if lastIn.Valid {
		t := lastIn.Time
		l.LastInboundAt = &t
	}
	if lastOut.Valid {
		t := lastOut.Time
		l.LastOutboundAt = &t
	}
	return l, nil
}

// GetLead retrieves one lead by id.
func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// ListDueLeads returns leads whose follow-up is due: next_at has passed and
// the schedule is in a runnable state. Bounded batch per invocation.
func (s *Store) ListDueLeads(ctx context.Context, now time.Time, limit int) ([]*domain.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		 WHERE followup_next_at IS NOT NULL AND followup_next_at <= $1
		   AND followup_status IN ('planned', 'due', 'failed')
		 ORDER BY followup_next_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ClaimLeadForSending flips a still-due lead to sending. Zero rows updated
// means another run already claimed it; callers skip, not error.
func (s *Store) ClaimLeadForSending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_status = 'sending', updated_at = NOW()
		 WHERE id = $1
		   AND followup_status IN ('planned', 'due', 'failed')
		   AND followup_next_at IS NOT NULL AND followup_next_at <= $2`,
		id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetLeadFollowupIdle retires the schedule with a stop reason and clears
// next_at.
func (s *Store) SetLeadFollowupIdle(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_status = 'idle', stop_reason = $1,
		        followup_next_at = NULL, updated_at = NOW()
		 WHERE id = $2`, reason, id)
	return err
}

// FinishLeadFollowup records the final confirmed stage and retires the
// schedule. The stage counter is bumped so sent-stage accounting stays
// accurate even when no further follow-up is planned.
func (s *Store) FinishLeadFollowup(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_stage = followup_stage + 1,
		        followup_status = 'idle', stop_reason = $1,
		        followup_next_at = NULL, last_outbound_at = NOW(), updated_at = NOW()
		 WHERE id = $2`, reason, id)
	return err
}

// SetLeadFollowupPlanned marks a successful run: planned, next_at cleared
// (the send-confirmation step arms the next stage), fail count reset.
func (s *Store) SetLeadFollowupPlanned(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_status = 'planned', followup_next_at = NULL,
		        stop_reason = '', fail_count = 0, updated_at = NOW()
		 WHERE id = $1`, id)
	return err
}

// SetLeadFollowupFailed re-arms the schedule after a failed step with a
// short backoff and bumps the consecutive-failure counter.
func (s *Store) SetLeadFollowupFailed(ctx context.Context, id uuid.UUID, retryAt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_status = 'failed', followup_next_at = $1,
		        stop_reason = $2, fail_count = fail_count + 1, updated_at = NOW()
		 WHERE id = $3`, retryAt, reason, id)
	return err
}

// AdvanceLeadFollowupStage bumps the stage after a confirmed send and arms
// the next occurrence.
func (s *Store) AdvanceLeadFollowupStage(ctx context.Context, id uuid.UUID, nextAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET followup_stage = followup_stage + 1,
		        followup_status = 'planned', followup_next_at = $1,
		        last_outbound_at = NOW(), updated_at = NOW()
		 WHERE id = $2`, nextAt, id)
	return err
}

// TouchLeadOutbound stamps the last agent-outbound timestamp.
func (s *Store) TouchLeadOutbound(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET last_outbound_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id)
	return err
}
