// Package pipeline implements the draft/QA/rewrite state machine. Each
// runner is a stateless batch step: it claims work through the store's
// conditional writes, so overlapping invocations are safe and repeated
// runs are no-ops.
package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Result reports the outcome of one work item in a batch run.
type Result struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Outcome tags used across runners.
const (
	OutcomeDrafted      = "drafted"
	OutcomeEscalated    = "escalated"
	OutcomeSkippedLock  = "skipped_locked"
	OutcomeSkippedDone  = "skipped_done"
	OutcomeError        = "error"
	OutcomePass         = "pass"
	OutcomeWarn         = "warn"
	OutcomeFail         = "fail"
	OutcomeDuplicate    = "duplicate"
	OutcomeRewritten    = "rewritten"
	OutcomeIntegrity    = "integrity_failure"
)

// DraftGenerator turns routed inbound messages into reply drafts. It owns
// the idempotency lock that guarantees at most one draft per inbound.
type DraftGenerator struct {
	store     *store.Store
	completer llm.Completer
	cfg       config.PipelineConfig
}

// NewDraftGenerator builds the generator.
func NewDraftGenerator(st *store.Store, completer llm.Completer, cfg config.PipelineConfig) *DraftGenerator {
	return &DraftGenerator{store: st, completer: completer, cfg: cfg}
}

// Run processes up to limit route_resolved inbound messages. A zero or
// negative limit uses the configured batch size. Item failures are recorded
// per result and never abort the batch.
func (g *DraftGenerator) Run(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 || limit > g.cfg.BatchSize {
		limit = g.cfg.BatchSize
	}
	inbounds, err := g.store.ListMessagesByStatus(ctx, domain.StatusRouteResolved, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(inbounds))
	for _, inbound := range inbounds {
		if ctx.Err() != nil {
			break
		}
		outcome, perr := g.ProcessInbound(ctx, inbound)
		r := Result{ID: inbound.ID.String(), Outcome: outcome}
		if perr != nil {
			r.Outcome = OutcomeError
			r.Error = perr.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

// ProcessInbound generates at most one draft for an inbound message. The
// lock insert happens before any completion call, so a concurrent or
// repeated run exits without side effects.
func (g *DraftGenerator) ProcessInbound(ctx context.Context, inbound *domain.Message) (string, error) {
	lockResult, lock, err := g.store.AcquireDraftLock(ctx, inbound.ID)
	if err != nil {
		return OutcomeError, err
	}
	switch lockResult {
	case store.LockCompleted:
		return OutcomeSkippedDone, nil
	case store.LockHeld:
		return OutcomeSkippedLock, nil
	}

	lead, err := g.store.GetLead(ctx, inbound.LeadID)
	if err != nil {
		return g.escalate(ctx, inbound, "lead lookup failed")
	}
	if lead.AgentID != inbound.AgentID {
		// Ownership mismatch between message and lead: never draft.
		return g.escalate(ctx, inbound, "lead/agent ownership mismatch")
	}
	agent, err := g.store.GetAgent(ctx, lead.AgentID)
	if err != nil {
		return g.escalate(ctx, inbound, "agent lookup failed")
	}

	var property *domain.Property
	if lead.PropertyID != nil {
		property, err = g.store.GetProperty(ctx, *lead.PropertyID)
		if err != nil && err != store.ErrNotFound {
			return g.escalate(ctx, inbound, "property lookup failed")
		}
	}

	templates, err := g.store.ListTemplates(ctx, agent.ID, inbound.RouteCategory)
	if err != nil {
		logger.Warn("template lookup failed", "agent", agent.ID, "error", err)
	}

	prompt := buildWriterPrompt(inbound, lead, agent, property, templates)
	reply, err := g.completer.Complete(ctx, llm.Request{
		Stage:       config.StageWriter,
		System:      writerSystemPrompt,
		User:        prompt,
		Temperature: 0.6,
		MaxTokens:   700,
	})
	if err != nil {
		logger.Warn("writer call failed", "message", inbound.ID, "error", err)
		return g.escalate(ctx, inbound, "writer failed")
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.Contains(reply, EscalationSentinel) {
		return g.escalate(ctx, inbound, "writer escalated")
	}

	draft := &domain.Message{
		ID:      uuid.New(),
		LeadID:  lead.ID,
		AgentID: agent.ID,
		Role:    domain.RoleAgent,
		Subject: replySubject(inbound.Subject),
		Body:    reply,
		Status:  domain.StatusQAPending,
		// A needs_approval routing decision sticks to the draft: QA can
		// never upgrade it back to an automatic send.
		ApprovalRequired: inbound.ApprovalRequired,
		SendStatus:       domain.SendPending,
		InReplyTo:        &inbound.ID,
	}
	if err := g.store.CreateMessage(ctx, draft); err != nil {
		return OutcomeError, err
	}
	if err := g.store.LinkDraftToLock(ctx, lock.ID, draft.ID); err != nil {
		return OutcomeError, err
	}
	if err := g.store.UpdateMessageStatus(ctx, inbound.ID, domain.StatusDraftCreated); err != nil {
		return OutcomeError, err
	}

	logger.Info("draft created",
		"inbound", inbound.ID, "draft", draft.ID, "lead", lead.Email,
		"category", inbound.RouteCategory)
	return OutcomeDrafted, nil
}

// escalate marks the inbound needs_human. The lock row stays draft-less,
// which is terminal: this inbound will not be retried automatically.
func (g *DraftGenerator) escalate(ctx context.Context, inbound *domain.Message, reason string) (string, error) {
	logger.Warn("inbound escalated to human", "message", inbound.ID, "reason", reason)
	if err := g.store.UpdateMessageStatus(ctx, inbound.ID, domain.StatusNeedsHuman); err != nil {
		return OutcomeError, err
	}
	return OutcomeEscalated, nil
}

// replySubject prefixes Re: unless already present.
func replySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "Re: Ihre Anfrage"
	}
	if strings.HasPrefix(strings.ToLower(s), "re:") || strings.HasPrefix(strings.ToLower(s), "aw:") {
		return s
	}
	return "Re: " + s
}
