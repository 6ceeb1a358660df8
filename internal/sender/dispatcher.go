package sender

import (
	"context"
	"time"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/followup"
	"github.com/leadpilot/leadpilot/internal/pipeline"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Dispatch outcome tags.
const (
	OutcomeSent         = "sent"
	OutcomeSendFailed   = "send_failed"
	OutcomeSkippedClaim = "skipped_claim"
)

// Dispatcher delivers drafts that cleared the pipeline. It claims each
// ready_to_send message with a conditional update so two overlapping runs
// never send the same draft, and on confirmed delivery performs the
// send-confirmation bookkeeping: outbound timestamp on the lead and, for
// follow-up drafts, advancing the follow-up stage.
type Dispatcher struct {
	store  *store.Store
	sender Sender
	cfg    config.SenderConfig
	fu     config.FollowupConfig
}

// NewDispatcher wires a dispatcher over a store and a provider.
func NewDispatcher(st *store.Store, snd Sender, cfg config.SenderConfig, fu config.FollowupConfig) *Dispatcher {
	return &Dispatcher{store: st, sender: snd, cfg: cfg, fu: fu}
}

// Run dispatches up to limit sendable drafts. A zero or negative limit uses
// the configured batch size.
func (d *Dispatcher) Run(ctx context.Context, limit int) ([]pipeline.Result, error) {
	if limit <= 0 || limit > d.cfg.BatchSize {
		limit = d.cfg.BatchSize
	}
	msgs, err := d.store.ListSendableMessages(ctx, limit)
	if err != nil {
		return nil, err
	}

	results := make([]pipeline.Result, 0, len(msgs))
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		outcome, perr := d.DispatchMessage(ctx, msg)
		r := pipeline.Result{ID: msg.ID.String(), Outcome: outcome}
		if perr != nil {
			r.Outcome = pipeline.OutcomeError
			r.Error = perr.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

// DispatchMessage sends a single draft. The claim to 'sending' happens
// first; losing the claim means another run already took the message.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg *domain.Message) (string, error) {
	claimed, err := d.store.ClaimMessageForSend(ctx, msg.ID)
	if err != nil {
		return pipeline.OutcomeError, err
	}
	if !claimed {
		return OutcomeSkippedClaim, nil
	}

	lead, err := d.store.GetLead(ctx, msg.LeadID)
	if err != nil {
		return pipeline.OutcomeError, err
	}
	agent, err := d.store.GetAgent(ctx, msg.AgentID)
	if err != nil {
		return pipeline.OutcomeError, err
	}

	res, err := d.sender.Send(ctx, &OutboundEmail{
		MessageID: msg.ID.String(),
		To:        lead.Email,
		FromName:  agent.Name,
		FromEmail: agent.Email,
		Subject:   msg.Subject,
		TextBody:  msg.Body,
	})
	if err != nil {
		return pipeline.OutcomeError, err
	}
	if !res.Success {
		return OutcomeSendFailed, d.recordFailure(ctx, msg, lead, res)
	}

	sentAt := res.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	if err := d.store.MarkMessageSent(ctx, msg.ID, sentAt); err != nil {
		return pipeline.OutcomeError, err
	}
	if err := d.store.TouchLeadOutbound(ctx, lead.ID, sentAt); err != nil {
		return pipeline.OutcomeError, err
	}
	if msg.IsFollowup() {
		if err := d.advanceFollowup(ctx, msg, lead, agent, sentAt); err != nil {
			return pipeline.OutcomeError, err
		}
	}

	logger.Info("draft sent",
		"message_id", msg.ID.String(),
		"lead", lead.Email,
		"provider_id", res.ProviderID,
		"followup", msg.IsFollowup())
	return OutcomeSent, nil
}

// advanceFollowup moves the lead to the next stage after a follow-up send
// is confirmed. Past the policy ceiling the schedule parks idle instead.
func (d *Dispatcher) advanceFollowup(ctx context.Context, msg *domain.Message, lead *domain.Lead, agent *domain.Agent, sentAt time.Time) error {
	var property *domain.Property
	if lead.PropertyID != nil {
		p, err := d.store.GetProperty(ctx, *lead.PropertyID)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		property = p
	}

	policy := domain.ResolvePolicy(lead, property, agent)
	if policy.Stage1DelayHours == 0 {
		policy.Stage1DelayHours = d.fu.DefaultStage1Hours
	}
	if policy.Stage2DelayHours == 0 {
		policy.Stage2DelayHours = d.fu.DefaultStage2Hours
	}

	nextStage := lead.FollowupStage + 1
	if nextStage >= policy.MaxStage {
		// The send that just went out still counts: bump the stage
		// before parking the schedule.
		return d.store.FinishLeadFollowup(ctx, lead.ID, followup.StopMaxStage)
	}
	nextAt := sentAt.Add(time.Duration(policy.DelayHoursForStage(nextStage)) * time.Hour)
	return d.store.AdvanceLeadFollowupStage(ctx, lead.ID, nextAt)
}

// recordFailure marks the message failed and, for follow-ups, schedules a
// retry with backoff so the lead does not stay stuck in 'sending'.
func (d *Dispatcher) recordFailure(ctx context.Context, msg *domain.Message, lead *domain.Lead, res *SendResult) error {
	sendErr := "provider rejected"
	if res.Err != nil {
		sendErr = res.Err.Error()
	}
	logger.Warn("draft send failed",
		"message_id", msg.ID.String(),
		"lead", lead.Email,
		"error", sendErr)
	if err := d.store.MarkMessageSendFailed(ctx, msg.ID, sendErr); err != nil {
		return err
	}
	if !msg.IsFollowup() {
		return nil
	}
	if lead.FailCount+1 >= d.fu.MaxFailures {
		return d.store.SetLeadFollowupIdle(ctx, lead.ID, followup.StopRetryLimit)
	}
	retryAt := time.Now().UTC().Add(time.Duration(d.fu.BackoffMinutes) * time.Minute)
	return d.store.SetLeadFollowupFailed(ctx, lead.ID, retryAt, sendErr)
}
