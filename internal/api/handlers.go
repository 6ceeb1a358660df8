package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/classifier"
	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pipeline"
	"github.com/leadpilot/leadpilot/internal/pkg/distlock"
	"github.com/leadpilot/leadpilot/internal/pkg/httputil"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
)

// runnerLockTTL bounds how long a crashed run can block the next one.
const runnerLockTTL = 5 * time.Minute

// Handlers holds the wired components behind the HTTP surface.
type Handlers struct {
	cfg  config.ServerConfig
	deps Deps
}

// NewHandlers builds the handler set.
func NewHandlers(cfg config.ServerConfig, deps Deps) *Handlers {
	return &Handlers{cfg: cfg, deps: deps}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status":  "ok",
		"service": "leadpilot",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// classifyRequest is the ingest collaborator's routing question. MessageID
// is optional; when present the decision is persisted on that message row.
type classifyRequest struct {
	MessageID          string `json:"message_id,omitempty"`
	Subject            string `json:"subject"`
	From               string `json:"from"`
	ReplyTo            string `json:"reply_to,omitempty"`
	To                 string `json:"to,omitempty"`
	BodySnippet        string `json:"body_snippet,omitempty"`
	HasListUnsubscribe bool   `json:"has_list_unsubscribe,omitempty"`
	IsBulk             bool   `json:"is_bulk,omitempty"`
	IsNoReply          bool   `json:"is_no_reply,omitempty"`
}

// Classify routes one inbound email. LLM failures surface as 502 so the
// caller retries instead of treating the message as routed.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.From == "" {
		httputil.BadRequest(w, "from is required")
		return
	}

	decision, err := h.deps.Classifier.Classify(r.Context(), classifier.Email{
		Subject:            req.Subject,
		From:               req.From,
		ReplyTo:            req.ReplyTo,
		To:                 req.To,
		BodySnippet:        req.BodySnippet,
		HasListUnsubscribe: req.HasListUnsubscribe,
		IsBulk:             req.IsBulk,
		IsNoReply:          req.IsNoReply,
	})
	if err != nil {
		var upstream *llm.UpstreamError
		var schema *llm.SchemaError
		switch {
		case errors.As(err, &upstream), errors.As(err, &schema):
			httputil.BadGateway(w, "classification unavailable")
		case errors.Is(err, llm.ErrNotConfigured):
			httputil.InternalError(w, err)
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	if req.MessageID != "" {
		id, perr := uuid.Parse(req.MessageID)
		if perr != nil {
			httputil.BadRequest(w, "invalid message_id")
			return
		}
		if err := h.persistRoute(r.Context(), id, decision); err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	httputil.OK(w, decision)
}

// persistRoute records the decision on the message row and moves it to the
// status the decision implies.
func (h *Handlers) persistRoute(ctx context.Context, id uuid.UUID, d classifier.Decision) error {
	status := domain.StatusRouteResolved
	approval := false
	switch d.Action {
	case classifier.ActionIgnore:
		status = domain.StatusIgnored
	case classifier.ActionNeedsApproval:
		approval = true
	}
	return h.deps.Store.SetMessageRoute(ctx, id, status, string(d.Category), d.Confidence, d.Reason, approval)
}

// runRequest is the optional body of a runner endpoint.
type runRequest struct {
	Limit int `json:"limit,omitempty"`
}

// batchResponse is the common runner envelope.
type batchResponse struct {
	OK        bool              `json:"ok"`
	Processed int               `json:"processed"`
	Results   []pipeline.Result `json:"results"`
}

// RunDrafts drains routed inbound messages into reply drafts.
func (h *Handlers) RunDrafts(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, "drafts", h.deps.Drafts.Run)
}

// RunQA evaluates pending drafts, rechecks included.
func (h *Handlers) RunQA(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, "qa", h.deps.QA.Run)
}

// RunRewrite rewrites drafts that QA flagged.
func (h *Handlers) RunRewrite(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, "rewrite", h.deps.Rewrite.Run)
}

// RunFollowups evaluates due follow-up schedules.
func (h *Handlers) RunFollowups(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, "followups", h.deps.Followups.Run)
}

// RunDispatch sends approved drafts through the provider.
func (h *Handlers) RunDispatch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dispatcher == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "sending is disabled")
		return
	}
	h.runBatch(w, r, "dispatch", h.deps.Dispatcher.Run)
}

// runBatch is the shared runner shape: parse the optional limit, take the
// per-runner overlap lock, run, return the envelope. The lock is best
// effort; correctness comes from the conditional row updates underneath.
func (h *Handlers) runBatch(w http.ResponseWriter, r *http.Request, name string, run func(context.Context, int) ([]pipeline.Result, error)) {
	limit := decodeLimit(r)

	lock := distlock.New(h.deps.Redis, h.deps.DB, "runner:"+name, runnerLockTTL)
	acquired, err := lock.Acquire(r.Context())
	if err != nil {
		logger.Warn("runner lock unavailable", "runner", name, "error", err.Error())
	} else if !acquired {
		httputil.Error(w, http.StatusConflict, "run already in progress")
		return
	} else {
		defer func() { _ = lock.Release(context.Background()) }()
	}

	results, err := run(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if results == nil {
		results = []pipeline.Result{}
	}
	httputil.OK(w, batchResponse{OK: true, Processed: len(results), Results: results})
}

// decodeLimit reads the optional {"limit": n} body. An empty or absent body
// means the runner's configured batch size.
func decodeLimit(r *http.Request) int {
	if r.Body == nil {
		return 0
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0
	}
	if req.Limit < 0 {
		return 0
	}
	return req.Limit
}
