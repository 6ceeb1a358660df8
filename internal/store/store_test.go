package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadpilot/leadpilot/internal/domain"
)

func setupStoreTest(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func uniqueViolationErr() error {
	return &pq.Error{Code: "23505"}
}

func TestAcquireDraftLockFresh(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	inbound := uuid.New()
	mock.ExpectExec(`INSERT INTO draft_locks`).
		WithArgs(sqlmock.AnyArg(), inbound, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, lock, err := st.AcquireDraftLock(context.Background(), inbound)
	if err != nil {
		t.Fatalf("AcquireDraftLock: %v", err)
	}
	if res != LockAcquired {
		t.Errorf("result = %v, want LockAcquired", res)
	}
	if lock == nil || lock.InboundMessageID != inbound {
		t.Error("lock row not returned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAcquireDraftLockHeldWithoutDraft(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	inbound := uuid.New()
	existing := uuid.New()
	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnError(uniqueViolationErr())
	mock.ExpectQuery(`SELECT id, inbound_message_id, draft_id, created_at FROM draft_locks`).
		WithArgs(inbound).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inbound_message_id", "draft_id", "created_at"}).
			AddRow(existing, inbound, nil, time.Now()))

	res, lock, err := st.AcquireDraftLock(context.Background(), inbound)
	if err != nil {
		t.Fatalf("AcquireDraftLock: %v", err)
	}
	if res != LockHeld {
		t.Errorf("result = %v, want LockHeld", res)
	}
	if lock.DraftID != nil {
		t.Error("held lock must have no draft id")
	}
}

func TestAcquireDraftLockCompleted(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	inbound := uuid.New()
	draft := uuid.New()
	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnError(uniqueViolationErr())
	mock.ExpectQuery(`SELECT id, inbound_message_id, draft_id, created_at FROM draft_locks`).
		WithArgs(inbound).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inbound_message_id", "draft_id", "created_at"}).
			AddRow(uuid.New(), inbound, draft.String(), time.Now()))

	res, lock, err := st.AcquireDraftLock(context.Background(), inbound)
	if err != nil {
		t.Fatalf("AcquireDraftLock: %v", err)
	}
	if res != LockCompleted {
		t.Errorf("result = %v, want LockCompleted", res)
	}
	if lock.DraftID == nil || *lock.DraftID != draft {
		t.Error("completed lock must carry the draft id")
	}
}

func TestLinkDraftToLockAlreadyLinked(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE draft_locks SET draft_id`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.LinkDraftToLock(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected error when lock already linked")
	}
}

func TestRecordQAArtifactDuplicate(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO qa_artifacts`).
		WillReturnError(uniqueViolationErr())

	inserted, err := st.RecordQAArtifact(context.Background(), &domain.QAArtifact{
		DraftID:  uuid.New(),
		StageKey: "qa/v1/gpt-4o-mini",
		Verdict:  domain.VerdictPass,
	})
	if err != nil {
		t.Fatalf("RecordQAArtifact: %v", err)
	}
	if inserted {
		t.Error("duplicate artifact must report inserted=false")
	}
}

func TestClaimMessageForSend(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectExec(`UPDATE messages SET send_status`).
		WithArgs(domain.SendSending, id, domain.StatusReadyToSend, domain.SendPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := st.ClaimMessageForSend(context.Background(), id)
	if err != nil {
		t.Fatalf("ClaimMessageForSend: %v", err)
	}
	if !claimed {
		t.Error("expected claim to succeed")
	}

	mock.ExpectExec(`UPDATE messages SET send_status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = st.ClaimMessageForSend(context.Background(), id)
	if err != nil {
		t.Fatalf("ClaimMessageForSend: %v", err)
	}
	if claimed {
		t.Error("second claim must lose")
	}
}

func TestClaimLeadForSending(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	id := uuid.New()
	now := time.Now()
	mock.ExpectExec(`UPDATE leads SET followup_status = 'sending'`).
		WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := st.ClaimLeadForSending(context.Background(), id, now)
	if err != nil {
		t.Fatalf("ClaimLeadForSending: %v", err)
	}
	if claimed {
		t.Error("no longer due lead must not be claimed")
	}
}

func TestGetMessageNotFound(t *testing.T) {
	st, mock, cleanup := setupStoreTest(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.GetMessage(context.Background(), id)
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
