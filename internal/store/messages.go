package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/domain"
)

const messageColumns = `id, lead_id, agent_id, role, subject, body, status,
	approval_required, send_status, send_error, route_category,
	route_confidence, route_reason, in_reply_to, followup_stage,
	sent_at, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	var inReplyTo uuid.NullUUID
	var stage sql.NullInt64
	var sentAt sql.NullTime
	err := row.Scan(&m.ID, &m.LeadID, &m.AgentID, &m.Role, &m.Subject, &m.Body,
		&m.Status, &m.ApprovalRequired, &m.SendStatus, &m.SendError,
		&m.RouteCategory, &m.RouteConfidence, &m.RouteReason,
		&inReplyTo, &stage, &sentAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if inReplyTo.Valid {
		v := inReplyTo.UUID
		m.InReplyTo = &v
	}
	if stage.Valid {
		v := int(stage.Int64)
		m.FollowupStage = &v
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}

// GetMessage retrieves one message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// CreateMessage inserts a new message row.
func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, lead_id, agent_id, role, subject, body, status,
			approval_required, send_status, send_error, route_category,
			route_confidence, route_reason, in_reply_to, followup_stage,
			sent_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, m.LeadID, m.AgentID, m.Role, m.Subject, m.Body, m.Status,
		m.ApprovalRequired, m.SendStatus, m.SendError, m.RouteCategory,
		m.RouteConfidence, m.RouteReason, m.InReplyTo, m.FollowupStage,
		m.SentAt, m.CreatedAt, m.UpdatedAt)
	return err
}

// SetMessageRoute persists a classifier decision on an inbound message and
// moves it to the matching status.
func (s *Store) SetMessageRoute(ctx context.Context, id uuid.UUID, status domain.MessageStatus, category string, confidence float64, reason string, approvalRequired bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, route_category = $2, route_confidence = $3,
		        route_reason = $4, approval_required = $5, updated_at = NOW()
		 WHERE id = $6`,
		status, category, confidence, reason, approvalRequired, id)
	return err
}

// UpdateMessageStatus moves a message to a new pipeline status.
func (s *Store) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// UpdateMessageStatusApproval sets status together with the approval flag.
func (s *Store) UpdateMessageStatusApproval(ctx context.Context, id uuid.UUID, status domain.MessageStatus, approvalRequired bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1, approval_required = $2, updated_at = NOW() WHERE id = $3`,
		status, approvalRequired, id)
	return err
}

// UpdateMessageBody replaces a draft's body after a rewrite.
func (s *Store) UpdateMessageBody(ctx context.Context, id uuid.UUID, body string, status domain.MessageStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET body = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		body, status, id)
	return err
}

// ListMessagesByStatus returns up to limit messages in the given status,
// oldest first, for one batch invocation.
func (s *Store) ListMessagesByStatus(ctx context.Context, status domain.MessageStatus, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE status = $1
		 ORDER BY created_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSendableMessages returns ready_to_send drafts not yet claimed by a
// dispatch run.
func (s *Store) ListSendableMessages(ctx context.Context, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE status = $1 AND send_status = $2
		 ORDER BY created_at ASC LIMIT $3`,
		domain.StatusReadyToSend, domain.SendPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClaimMessageForSend flips send_status pending -> sending. Zero rows means
// another dispatch run already claimed it.
func (s *Store) ClaimMessageForSend(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET send_status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = $3 AND send_status = $4`,
		domain.SendSending, id, domain.StatusReadyToSend, domain.SendPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMessageSent records a confirmed provider send.
func (s *Store) MarkMessageSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET send_status = $1, sent_at = $2, updated_at = NOW() WHERE id = $3`,
		domain.SendSent, sentAt, id)
	return err
}

// MarkMessageSendFailed records a failed provider send.
func (s *Store) MarkMessageSendFailed(ctx context.Context, id uuid.UUID, sendErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET send_status = $1, send_error = $2, updated_at = NOW() WHERE id = $3`,
		domain.SendFailed, sendErr, id)
	return err
}
