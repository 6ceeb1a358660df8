// Package followup re-engages leads that have gone quiet. The scheduler is
// a stateless batch step: due leads are claimed through a conditional
// update, hard stops are evaluated deterministically before any completion
// call, and every failure lands in a retryable or idle state so a lead is
// never lost silently.
package followup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pipeline"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Stop reasons recorded when a schedule goes idle.
const (
	StopDisabled      = "disabled"
	StopNoEmail       = "no_email"
	StopPaused        = "paused"
	StopMaxStage      = "max_stage_reached"
	StopLeadReplied   = "lead_replied"
	StopLowConfidence = "low_confidence"
	StopNeedsApproval = "needs_approval"
	StopRetryLimit    = "retry_limit"
)

// Outcome tags specific to follow-up runs.
const (
	OutcomeScheduled = "scheduled"
	OutcomeStopped   = "stopped"
	OutcomeSkipped   = "skipped"
	OutcomeBackoff   = "backoff"
)

// Scheduler scans due leads and pushes follow-up drafts into the shared
// draft/QA pipeline.
type Scheduler struct {
	store     *store.Store
	completer llm.Completer
	qa        *pipeline.QAEvaluator
	cfg       config.FollowupConfig
}

// NewScheduler builds the scheduler.
func NewScheduler(st *store.Store, completer llm.Completer, qa *pipeline.QAEvaluator, cfg config.FollowupConfig) *Scheduler {
	return &Scheduler{store: st, completer: completer, qa: qa, cfg: cfg}
}

// Run processes up to limit due leads. Item failures never abort the batch.
func (s *Scheduler) Run(ctx context.Context, limit int) ([]pipeline.Result, error) {
	if limit <= 0 || limit > s.cfg.BatchSize {
		limit = s.cfg.BatchSize
	}
	now := time.Now().UTC()

	leads, err := s.store.ListDueLeads(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	results := make([]pipeline.Result, 0, len(leads))
	for _, lead := range leads {
		if ctx.Err() != nil {
			break
		}
		outcome, perr := s.processLead(ctx, lead, now)
		r := pipeline.Result{ID: lead.ID.String(), Outcome: outcome}
		if perr != nil {
			r.Outcome = pipeline.OutcomeError
			r.Error = perr.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Scheduler) processLead(ctx context.Context, lead *domain.Lead, now time.Time) (string, error) {
	agent, err := s.store.GetAgent(ctx, lead.AgentID)
	if err != nil {
		return s.fail(ctx, lead, "agent lookup failed")
	}
	var property *domain.Property
	if lead.PropertyID != nil {
		property, err = s.store.GetProperty(ctx, *lead.PropertyID)
		if err != nil && err != store.ErrNotFound {
			return s.fail(ctx, lead, "property lookup failed")
		}
	}

	policy := domain.ResolvePolicy(lead, property, agent)
	if policy.Stage1DelayHours == 0 {
		policy.Stage1DelayHours = s.cfg.DefaultStage1Hours
	}
	if policy.Stage2DelayHours == 0 {
		policy.Stage2DelayHours = s.cfg.DefaultStage2Hours
	}

	// Hard stops, in order. Each retires the schedule with a reason.
	if reason := s.hardStop(lead, policy, now); reason != "" {
		if err := s.store.SetLeadFollowupIdle(ctx, lead.ID, reason); err != nil {
			return pipeline.OutcomeError, err
		}
		logger.Info("follow-up stopped", "lead", lead.Email, "reason", reason)
		return OutcomeStopped, nil
	}

	// Claim. Zero rows means another run got here first.
	claimed, err := s.store.ClaimLeadForSending(ctx, lead.ID, now)
	if err != nil {
		return pipeline.OutcomeError, err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	gen, err := s.generate(ctx, lead, agent, property, policy)
	if err != nil {
		logger.Warn("follow-up generation failed", "lead", lead.Email, "error", err)
		return s.fail(ctx, lead, "generation failed")
	}
	if !gen.ShouldSend || gen.Confidence < s.cfg.ConfidenceFloor || strings.TrimSpace(gen.Text) == "" {
		// A low-confidence or declined generation is a decision, not an
		// error: retire the schedule.
		if err := s.store.SetLeadFollowupIdle(ctx, lead.ID, StopLowConfidence); err != nil {
			return pipeline.OutcomeError, err
		}
		return OutcomeStopped, nil
	}

	stage := lead.FollowupStage
	draft := &domain.Message{
		ID:            uuid.New(),
		LeadID:        lead.ID,
		AgentID:       agent.ID,
		Role:          domain.RoleAgent,
		Subject:       followupSubject(stage, property),
		Body:          strings.TrimSpace(gen.Text),
		Status:        domain.StatusQAPending,
		SendStatus:    domain.SendPending,
		FollowupStage: &stage,
	}
	if err := s.store.CreateMessage(ctx, draft); err != nil {
		return s.fail(ctx, lead, "draft insert failed")
	}

	// Same QA gate as inbound replies; a follow-up is never sent unchecked.
	if _, err := s.qa.EvaluateDraft(ctx, draft, false); err != nil {
		return s.fail(ctx, lead, "qa failed")
	}
	current, err := s.store.GetMessage(ctx, draft.ID)
	if err != nil {
		return s.fail(ctx, lead, "draft reload failed")
	}

	switch current.Status {
	case domain.StatusReadyToSend:
		// Dispatch confirms the send and arms the next stage; scheduling it
		// here would double-book before the send is confirmed.
		if err := s.store.SetLeadFollowupPlanned(ctx, lead.ID); err != nil {
			return pipeline.OutcomeError, err
		}
		logger.Info("follow-up scheduled", "lead", lead.Email, "stage", stage)
		return OutcomeScheduled, nil
	default:
		// Approval, rewrite or human review: stop the loop rather than
		// letting follow-ups pile up behind an unreviewed draft.
		if err := s.store.SetLeadFollowupIdle(ctx, lead.ID, StopNeedsApproval); err != nil {
			return pipeline.OutcomeError, err
		}
		logger.Info("follow-up held for review", "lead", lead.Email, "stage", stage, "status", string(current.Status))
		return OutcomeStopped, nil
	}
}

// hardStop returns a stop reason, or "" when the follow-up may proceed.
func (s *Scheduler) hardStop(lead *domain.Lead, policy domain.Policy, now time.Time) string {
	if !policy.Enabled {
		return StopDisabled
	}
	if strings.TrimSpace(lead.Email) == "" {
		return StopNoEmail
	}
	if lead.PausedUntil != nil && lead.PausedUntil.After(now) {
		return StopPaused
	}
	if lead.FollowupStage >= policy.MaxStage {
		return StopMaxStage
	}
	if lead.RepliedLast() {
		return StopLeadReplied
	}
	return ""
}

// fail re-arms the schedule with a short backoff, or retires it once the
// consecutive-failure budget is spent.
func (s *Scheduler) fail(ctx context.Context, lead *domain.Lead, reason string) (string, error) {
	if lead.FailCount+1 >= s.cfg.MaxFailures {
		if err := s.store.SetLeadFollowupIdle(ctx, lead.ID, StopRetryLimit); err != nil {
			return pipeline.OutcomeError, err
		}
		logger.Warn("follow-up retry budget spent", "lead", lead.Email)
		return OutcomeStopped, nil
	}
	retryAt := time.Now().UTC().Add(s.cfg.Backoff())
	if err := s.store.SetLeadFollowupFailed(ctx, lead.ID, retryAt, reason); err != nil {
		return pipeline.OutcomeError, err
	}
	return OutcomeBackoff, nil
}

func followupSubject(stage int, property *domain.Property) string {
	if property != nil && property.Title != "" {
		return fmt.Sprintf("Re: %s", property.Title)
	}
	if stage >= domain.MaxFollowupStage {
		return "Noch Interesse an der Immobilie?"
	}
	return "Ihre Anfrage"
}
