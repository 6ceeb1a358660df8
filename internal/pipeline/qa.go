package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
	"github.com/leadpilot/leadpilot/internal/store"
)

// promptVersion is part of the QA stage identity. Bumping it allows a
// changed prompt to re-evaluate drafts that an older prompt already saw.
const promptVersion = "v1"

// QAEvaluator scores drafts pass/warn/fail and routes them. The recheck
// after a rewrite uses the same contract with a stricter prompt; a warn on
// recheck terminates in approval instead of a second rewrite.
type QAEvaluator struct {
	store     *store.Store
	completer llm.Completer
	llmCfg    config.LLMConfig
	cfg       config.PipelineConfig
}

// NewQAEvaluator builds the evaluator.
func NewQAEvaluator(st *store.Store, completer llm.Completer, llmCfg config.LLMConfig, cfg config.PipelineConfig) *QAEvaluator {
	return &QAEvaluator{store: st, completer: completer, llmCfg: llmCfg, cfg: cfg}
}

// Run processes pending first-pass evaluations, then pending rechecks. A
// zero or negative limit uses the configured batch size.
func (q *QAEvaluator) Run(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 || limit > q.cfg.BatchSize {
		limit = q.cfg.BatchSize
	}
	var results []Result

	for _, phase := range []struct {
		status  domain.MessageStatus
		recheck bool
	}{
		{domain.StatusQAPending, false},
		{domain.StatusRecheckPending, true},
	} {
		drafts, err := q.store.ListMessagesByStatus(ctx, phase.status, limit)
		if err != nil {
			return results, err
		}
		for _, draft := range drafts {
			if ctx.Err() != nil {
				return results, nil
			}
			outcome, perr := q.EvaluateDraft(ctx, draft, phase.recheck)
			r := Result{ID: draft.ID.String(), Outcome: outcome}
			if perr != nil {
				r.Outcome = OutcomeError
				r.Error = perr.Error()
			}
			results = append(results, r)
		}
	}
	return results, nil
}

// stageKey is the decision-stage identity an artifact is unique under.
func (q *QAEvaluator) stageKey(recheck bool) string {
	stage := config.StageQA
	name := "qa"
	if recheck {
		stage = config.StageQARecheck
		name = "qa_recheck"
	}
	return fmt.Sprintf("%s/%s/%s", name, promptVersion, q.llmCfg.ModelFor(stage))
}

// EvaluateDraft runs one evaluation. Upstream failures leave the draft in
// place for the next tick; schema violations are a fail verdict, and a
// duplicate (draft, stage) pair is skipped without a completion call.
func (q *QAEvaluator) EvaluateDraft(ctx context.Context, draft *domain.Message, recheck bool) (string, error) {
	stageKey := q.stageKey(recheck)

	seen, err := q.store.HasQAArtifact(ctx, draft.ID, stageKey)
	if err != nil {
		return OutcomeError, err
	}
	if seen {
		return OutcomeDuplicate, nil
	}

	inbound, ierr := q.loadInbound(ctx, draft)
	if ierr != nil {
		// Missing linkage or ownership mismatch: fail closed.
		logger.Warn("draft integrity failure", "draft", draft.ID, "error", ierr)
		if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsHuman, true); err != nil {
			return OutcomeError, err
		}
		return OutcomeIntegrity, nil
	}

	verdict, score, reason, err := q.evaluate(ctx, inbound, draft, recheck)
	if err != nil {
		// Upstream/config failure: surfaced per item, draft stays put.
		return OutcomeError, err
	}

	stage := config.StageQA
	if recheck {
		stage = config.StageQARecheck
	}
	inserted, err := q.store.RecordQAArtifact(ctx, &domain.QAArtifact{
		DraftID:  draft.ID,
		StageKey: stageKey,
		Verdict:  verdict,
		Score:    score,
		Reason:   reason,
		Model:    q.llmCfg.ModelFor(stage),
	})
	if err != nil {
		return OutcomeError, err
	}
	if !inserted {
		// A concurrent run recorded the same evaluation first.
		return OutcomeDuplicate, nil
	}

	return q.route(ctx, draft, verdict, recheck)
}

// loadInbound resolves the inbound message a draft answers and verifies
// draft/lead/agent ownership. Follow-up drafts have no inbound.
func (q *QAEvaluator) loadInbound(ctx context.Context, draft *domain.Message) (*domain.Message, error) {
	lead, err := q.store.GetLead(ctx, draft.LeadID)
	if err != nil {
		return nil, fmt.Errorf("lead lookup: %w", err)
	}
	if lead.AgentID != draft.AgentID {
		return nil, fmt.Errorf("draft %s: lead/agent ownership mismatch", draft.ID)
	}

	if draft.IsFollowup() {
		return nil, nil
	}
	if draft.InReplyTo == nil {
		return nil, fmt.Errorf("draft %s: missing inbound linkage", draft.ID)
	}
	inbound, err := q.store.GetMessage(ctx, *draft.InReplyTo)
	if err != nil {
		return nil, fmt.Errorf("inbound lookup: %w", err)
	}
	if inbound.LeadID != draft.LeadID {
		return nil, fmt.Errorf("draft %s: inbound belongs to a different lead", draft.ID)
	}
	return inbound, nil
}

type qaResponse struct {
	Verdict string  `json:"verdict"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// evaluate calls the QA model and normalizes the verdict. Anything outside
// the closed enum, including unparseable output, is a fail.
func (q *QAEvaluator) evaluate(ctx context.Context, inbound, draft *domain.Message, recheck bool) (domain.QAVerdict, float64, string, error) {
	stage := config.StageQA
	system := qaSystemPrompt
	if recheck {
		stage = config.StageQARecheck
		system = qaRecheckSystemPrompt
	}

	raw, err := q.completer.Complete(ctx, llm.Request{
		Stage:       stage,
		System:      system,
		User:        buildQAPrompt(inbound, draft),
		Temperature: 0,
		MaxTokens:   200,
		JSONOnly:    true,
	})
	if err != nil {
		return "", 0, "", fmt.Errorf("qa: %w", err)
	}

	var parsed qaResponse
	if err := llm.DecodeStrict(raw, &parsed); err != nil {
		logger.Warn("qa output unparseable, treating as fail", "draft", draft.ID, "error", err)
		return domain.VerdictFail, 0, "unparseable evaluator output", nil
	}

	switch domain.QAVerdict(strings.ToLower(strings.TrimSpace(parsed.Verdict))) {
	case domain.VerdictPass:
		return domain.VerdictPass, llm.ClampConfidence(parsed.Score), parsed.Reason, nil
	case domain.VerdictWarn:
		return domain.VerdictWarn, llm.ClampConfidence(parsed.Score), parsed.Reason, nil
	case domain.VerdictFail:
		return domain.VerdictFail, llm.ClampConfidence(parsed.Score), parsed.Reason, nil
	default:
		logger.Warn("qa verdict outside enum, treating as fail", "draft", draft.ID, "verdict", parsed.Verdict)
		return domain.VerdictFail, 0, "verdict outside enum", nil
	}
}

// route applies the state machine for a recorded verdict.
func (q *QAEvaluator) route(ctx context.Context, draft *domain.Message, verdict domain.QAVerdict, recheck bool) (string, error) {
	switch verdict {
	case domain.VerdictPass:
		return q.routePass(ctx, draft)
	case domain.VerdictWarn:
		if recheck {
			// One rewrite per cycle. A warn after recheck ends in approval.
			if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsApproval, true); err != nil {
				return OutcomeError, err
			}
			return OutcomeWarn, nil
		}
		if err := q.store.UpdateMessageStatus(ctx, draft.ID, domain.StatusRewritePending); err != nil {
			return OutcomeError, err
		}
		return OutcomeWarn, nil
	default:
		if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsHuman, true); err != nil {
			return OutcomeError, err
		}
		return OutcomeFail, nil
	}
}

// routePass applies the approval and autosend gates. A draft that carries
// the classifier's approval requirement always lands in approval; otherwise
// the agent's autosend flag is re-read on every pass transition, never
// cached.
func (q *QAEvaluator) routePass(ctx context.Context, draft *domain.Message) (string, error) {
	if draft.ApprovalRequired {
		if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsApproval, true); err != nil {
			return OutcomeError, err
		}
		return OutcomePass, nil
	}

	agent, err := q.store.GetAgent(ctx, draft.AgentID)
	if err != nil {
		return OutcomeError, err
	}
	if agent.AutosendEnabled {
		if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusReadyToSend, false); err != nil {
			return OutcomeError, err
		}
	} else {
		if err := q.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsApproval, true); err != nil {
			return OutcomeError, err
		}
	}
	return OutcomePass, nil
}
