// Package store is the durable-state layer of the pipeline. All
// coordination between overlapping batch runs happens here: idempotency
// locks are unique-constraint inserts, claims are conditional updates, and
// both report their rejection path as a typed outcome rather than an error.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadpilot/leadpilot/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store provides database operations for pipeline entities.
type Store struct {
	db *sql.DB
}

// New creates a store on an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// rejection, the signal that another run already holds the row.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// LockResult is the outcome of a draft-lock insert attempt.
type LockResult int

const (
	// LockAcquired means this run owns the inbound message.
	LockAcquired LockResult = iota
	// LockHeld means another run inserted the row but no draft exists yet
	// (concurrent generation, or a prior run that escalated to a human).
	LockHeld
	// LockCompleted means a draft was already generated for this inbound.
	LockCompleted
)

// AcquireDraftLock inserts the idempotency row for an inbound message.
// A unique violation is not an error: the existing row is inspected to
// distinguish an in-flight/terminal lock from a completed draft.
func (s *Store) AcquireDraftLock(ctx context.Context, inboundID uuid.UUID) (LockResult, *domain.DraftLock, error) {
	lock := &domain.DraftLock{
		ID:               uuid.New(),
		InboundMessageID: inboundID,
		CreatedAt:        time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO draft_locks (id, inbound_message_id, created_at) VALUES ($1, $2, $3)`,
		lock.ID, lock.InboundMessageID, lock.CreatedAt)
	if err == nil {
		return LockAcquired, lock, nil
	}
	if !isUniqueViolation(err) {
		return LockHeld, nil, err
	}

	existing := &domain.DraftLock{}
	var draftID sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, inbound_message_id, draft_id, created_at FROM draft_locks WHERE inbound_message_id = $1`,
		inboundID).Scan(&existing.ID, &existing.InboundMessageID, &draftID, &existing.CreatedAt)
	if err != nil {
		return LockHeld, nil, err
	}
	if draftID.Valid {
		id, perr := uuid.Parse(draftID.String)
		if perr == nil {
			existing.DraftID = &id
		}
		return LockCompleted, existing, nil
	}
	return LockHeld, existing, nil
}

// LinkDraftToLock records the generated draft on the lock row.
func (s *Store) LinkDraftToLock(ctx context.Context, lockID, draftID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE draft_locks SET draft_id = $1 WHERE id = $2 AND draft_id IS NULL`,
		draftID, lockID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("store: draft lock already linked")
	}
	return nil
}

// RecordQAArtifact appends an audit row for one evaluation. Returns false
// without error when the (draft, stage) pair was already recorded, which
// callers treat as "already evaluated, skip".
func (s *Store) RecordQAArtifact(ctx context.Context, art *domain.QAArtifact) (bool, error) {
	if art.ID == uuid.Nil {
		art.ID = uuid.New()
	}
	art.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qa_artifacts (id, draft_id, stage_key, verdict, score, reason, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		art.ID, art.DraftID, art.StageKey, art.Verdict, art.Score, art.Reason, art.Model, art.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LatestQAArtifact returns the most recent audit row for a draft.
func (s *Store) LatestQAArtifact(ctx context.Context, draftID uuid.UUID) (*domain.QAArtifact, error) {
	art := &domain.QAArtifact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, draft_id, stage_key, verdict, score, reason, model, created_at
		 FROM qa_artifacts WHERE draft_id = $1
		 ORDER BY created_at DESC LIMIT 1`, draftID).Scan(
		&art.ID, &art.DraftID, &art.StageKey, &art.Verdict, &art.Score,
		&art.Reason, &art.Model, &art.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return art, err
}

// HasQAArtifact reports whether an evaluation was already recorded for the
// given draft and stage identity. Used to avoid a wasted completion call
// before the conditional insert settles the race.
func (s *Store) HasQAArtifact(ctx context.Context, draftID uuid.UUID, stageKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM qa_artifacts WHERE draft_id = $1 AND stage_key = $2)`,
		draftID, stageKey).Scan(&exists)
	return exists, err
}
