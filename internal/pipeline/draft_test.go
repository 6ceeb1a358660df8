package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/store"
)

type fakeCompleter struct {
	resp  string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	return f.resp, f.err
}

func uniqueViolationErr() error { return &pq.Error{Code: "23505"} }

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{BatchSize: 20}
}

func setupPipelineTest(t *testing.T) (*store.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return store.New(db), mock, func() { db.Close() }
}

func leadRow(leadID, agentID uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "agent_id", "property_id", "email", "name", "provider_thread_id",
		"followup_enabled", "followup_stage", "followup_status", "followup_next_at",
		"stop_reason", "fail_count", "paused_until", "max_stage_override",
		"last_inbound_at", "last_outbound_at", "created_at", "updated_at",
	}).AddRow(leadID, agentID, nil, "max@web.de", "Max Mustermann", "thread-1",
		nil, 0, "idle", nil, "", 0, nil, nil, nil, nil, now, now)
}

func agentRow(agentID uuid.UUID, autosend bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "email", "autosend_enabled", "brand_voice", "signature_text",
		"followup_enabled", "followup_max_stage", "stage1_delay_hours",
		"stage2_delay_hours", "created_at",
	}).AddRow(agentID, "Anna Agent", "anna@makler.example", autosend, "", "",
		true, 2, 48, 96, time.Now())
}

func emptyTemplateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "agent_id", "name", "category", "body", "active"})
}

func inboundMessage() *domain.Message {
	return &domain.Message{
		ID:            uuid.New(),
		LeadID:        uuid.New(),
		AgentID:       uuid.New(),
		Role:          domain.RoleUser,
		Subject:       "Kontaktanfrage",
		Body:          "Ich interessiere mich für die Wohnung.",
		Status:        domain.StatusRouteResolved,
		RouteCategory: "LEAD",
	}
}

func TestProcessInboundSkipsHeldLock(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	fc := &fakeCompleter{}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`SELECT id, inbound_message_id, draft_id, created_at FROM draft_locks`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inbound_message_id", "draft_id", "created_at"}).
			AddRow(uuid.New(), inbound.ID, nil, time.Now()))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeSkippedLock {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeSkippedLock)
	}
	if fc.calls != 0 {
		t.Errorf("writer called %d times under held lock, want 0", fc.calls)
	}
}

func TestProcessInboundSkipsCompletedLock(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	fc := &fakeCompleter{}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery(`SELECT id, inbound_message_id, draft_id, created_at FROM draft_locks`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inbound_message_id", "draft_id", "created_at"}).
			AddRow(uuid.New(), inbound.ID, uuid.New().String(), time.Now()))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeSkippedDone {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeSkippedDone)
	}
	if fc.calls != 0 {
		t.Errorf("writer called %d times for completed lock, want 0", fc.calls)
	}
}

func TestProcessInboundCreatesDraft(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	fc := &fakeCompleter{resp: "Guten Tag Herr Mustermann, gerne lade ich Sie zu einer Besichtigung ein."}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id`).
		WillReturnRows(leadRow(inbound.LeadID, inbound.AgentID))
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id`).
		WillReturnRows(agentRow(inbound.AgentID, true))
	mock.ExpectQuery(`SELECT (.+) FROM response_templates`).
		WillReturnRows(emptyTemplateRows())
	mock.ExpectExec(`INSERT INTO messages`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE draft_locks SET draft_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET status`).
		WithArgs(domain.StatusDraftCreated, inbound.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeDrafted {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeDrafted)
	}
	if fc.calls != 1 {
		t.Errorf("writer calls = %d, want 1", fc.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDraftRunWithoutLimitUsesBatchSize(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()
	g := NewDraftGenerator(st, &fakeCompleter{}, config.PipelineConfig{BatchSize: 20})

	mock.ExpectQuery(`SELECT (.+) FROM messages WHERE status`).
		WithArgs(domain.StatusRouteResolved, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "lead_id", "agent_id", "role", "subject", "body", "status",
			"approval_required", "send_status", "send_error", "route_category",
			"route_confidence", "route_reason", "in_reply_to", "followup_stage",
			"sent_at", "created_at", "updated_at",
		}))

	results, err := g.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestProcessInboundCarriesApprovalRequirement(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	inbound.ApprovalRequired = true
	fc := &fakeCompleter{resp: "Guten Tag, gerne beantworte ich Ihre Frage."}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id`).
		WillReturnRows(leadRow(inbound.LeadID, inbound.AgentID))
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id`).
		WillReturnRows(agentRow(inbound.AgentID, true))
	mock.ExpectQuery(`SELECT (.+) FROM response_templates`).
		WillReturnRows(emptyTemplateRows())
	// The draft row must keep the routing decision's approval flag.
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), inbound.LeadID, inbound.AgentID, domain.RoleAgent,
			sqlmock.AnyArg(), sqlmock.AnyArg(), domain.StatusQAPending, true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE draft_locks SET draft_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE messages SET status`).
		WithArgs(domain.StatusDraftCreated, inbound.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeDrafted {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeDrafted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestProcessInboundEscalatesOnSentinel(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	fc := &fakeCompleter{resp: EscalationSentinel}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id`).
		WillReturnRows(leadRow(inbound.LeadID, inbound.AgentID))
	mock.ExpectQuery(`SELECT (.+) FROM agents WHERE id`).
		WillReturnRows(agentRow(inbound.AgentID, true))
	mock.ExpectQuery(`SELECT (.+) FROM response_templates`).
		WillReturnRows(emptyTemplateRows())
	mock.ExpectExec(`UPDATE messages SET status`).
		WithArgs(domain.StatusNeedsHuman, inbound.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeEscalated)
	}
}

func TestProcessInboundEscalatesOnOwnershipMismatch(t *testing.T) {
	st, mock, cleanup := setupPipelineTest(t)
	defer cleanup()

	inbound := inboundMessage()
	fc := &fakeCompleter{resp: "should not be used"}
	g := NewDraftGenerator(st, fc, testPipelineConfig())

	mock.ExpectExec(`INSERT INTO draft_locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Lead belongs to a different agent.
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id`).
		WillReturnRows(leadRow(inbound.LeadID, uuid.New()))
	mock.ExpectExec(`UPDATE messages SET status`).
		WithArgs(domain.StatusNeedsHuman, inbound.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := g.ProcessInbound(context.Background(), inbound)
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeEscalated)
	}
	if fc.calls != 0 {
		t.Errorf("writer called %d times despite mismatch, want 0", fc.calls)
	}
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kontaktanfrage", "Re: Kontaktanfrage"},
		{"Re: Kontaktanfrage", "Re: Kontaktanfrage"},
		{"RE: Wohnung", "RE: Wohnung"},
		{"Aw: Besichtigung", "Aw: Besichtigung"},
		{"", "Re: Ihre Anfrage"},
		{"   ", "Re: Ihre Anfrage"},
	}
	for _, tt := range tests {
		if got := replySubject(tt.in); got != tt.want {
			t.Errorf("replySubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStageKeyIncludesModelAndVersion(t *testing.T) {
	q := NewQAEvaluator(nil, nil, config.LLMConfig{
		Models: map[string]string{"qa": "gpt-4o-mini", "qa_recheck": "gpt-4o"},
	}, testPipelineConfig())
	if got := q.stageKey(false); got != "qa/v1/gpt-4o-mini" {
		t.Errorf("stageKey(false) = %q", got)
	}
	if got := q.stageKey(true); got != "qa_recheck/v1/gpt-4o" {
		t.Errorf("stageKey(true) = %q", got)
	}
}
