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

// RewriteEngine performs the single correction pass on a warned draft and
// hands it back to the recheck evaluator.
type RewriteEngine struct {
	store     *store.Store
	completer llm.Completer
	llmCfg    config.LLMConfig
	cfg       config.PipelineConfig
}

// NewRewriteEngine builds the engine.
func NewRewriteEngine(st *store.Store, completer llm.Completer, llmCfg config.LLMConfig, cfg config.PipelineConfig) *RewriteEngine {
	return &RewriteEngine{store: st, completer: completer, llmCfg: llmCfg, cfg: cfg}
}

// Run processes up to limit rewrite_pending drafts. A zero or negative
// limit uses the configured batch size.
func (e *RewriteEngine) Run(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 || limit > e.cfg.BatchSize {
		limit = e.cfg.BatchSize
	}
	drafts, err := e.store.ListMessagesByStatus(ctx, domain.StatusRewritePending, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(drafts))
	for _, draft := range drafts {
		if ctx.Err() != nil {
			break
		}
		outcome, perr := e.RewriteDraft(ctx, draft)
		r := Result{ID: draft.ID.String(), Outcome: outcome}
		if perr != nil {
			r.Outcome = OutcomeError
			r.Error = perr.Error()
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *RewriteEngine) stageKey() string {
	return fmt.Sprintf("rewrite/%s/%s", promptVersion, e.llmCfg.ModelFor(config.StageRewrite))
}

// RewriteDraft corrects one draft. An empty or failed rewrite sends the
// draft to a human; a successful one moves it to the recheck queue.
func (e *RewriteEngine) RewriteDraft(ctx context.Context, draft *domain.Message) (string, error) {
	stageKey := e.stageKey()
	seen, err := e.store.HasQAArtifact(ctx, draft.ID, stageKey)
	if err != nil {
		return OutcomeError, err
	}
	if seen {
		return OutcomeDuplicate, nil
	}

	reviewerNote, err := e.lastWarnReason(ctx, draft)
	if err != nil {
		return OutcomeError, err
	}

	rewritten, err := e.completer.Complete(ctx, llm.Request{
		Stage:       config.StageRewrite,
		System:      rewriteSystemPrompt,
		User:        buildRewritePrompt(draft, reviewerNote),
		Temperature: 0.3,
		MaxTokens:   700,
	})
	if err != nil {
		// Upstream failure: leave rewrite_pending for the next tick.
		return OutcomeError, fmt.Errorf("rewrite: %w", err)
	}

	rewritten = strings.TrimSpace(rewritten)
	verdict := domain.VerdictPass
	reason := "rewritten"
	if rewritten == "" || strings.Contains(rewritten, EscalationSentinel) {
		verdict = domain.VerdictFail
		reason = "empty or escalated rewrite"
	}

	inserted, err := e.store.RecordQAArtifact(ctx, &domain.QAArtifact{
		DraftID:  draft.ID,
		StageKey: stageKey,
		Verdict:  verdict,
		Reason:   reason,
		Model:    e.llmCfg.ModelFor(config.StageRewrite),
	})
	if err != nil {
		return OutcomeError, err
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}

	if verdict == domain.VerdictFail {
		if err := e.store.UpdateMessageStatusApproval(ctx, draft.ID, domain.StatusNeedsHuman, true); err != nil {
			return OutcomeError, err
		}
		return OutcomeFail, nil
	}

	if err := e.store.UpdateMessageBody(ctx, draft.ID, rewritten, domain.StatusRecheckPending); err != nil {
		return OutcomeError, err
	}
	logger.Info("draft rewritten", "draft", draft.ID)
	return OutcomeRewritten, nil
}

// lastWarnReason pulls the reviewer note from the first-pass QA artifact so
// the rewrite model knows what to fix.
func (e *RewriteEngine) lastWarnReason(ctx context.Context, draft *domain.Message) (string, error) {
	art, err := e.store.LatestQAArtifact(ctx, draft.ID)
	if err == store.ErrNotFound {
		return "quality check flagged this draft", nil
	}
	if err != nil {
		return "", err
	}
	if art.Reason == "" {
		return "quality check flagged this draft", nil
	}
	return art.Reason, nil
}
