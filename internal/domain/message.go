package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus enumerates the pipeline states of a message. Inbound
// messages move route_resolved -> draft_created (or needs_human); drafts
// move qa_pending -> rewrite_pending -> qa_recheck_pending and terminate
// at needs_approval, ready_to_send or needs_human.
type MessageStatus string

const (
	StatusReceived        MessageStatus = "received"
	StatusRouteResolved   MessageStatus = "route_resolved"
	StatusDraftCreated    MessageStatus = "draft_created"
	StatusQAPending       MessageStatus = "qa_pending"
	StatusRewritePending  MessageStatus = "rewrite_pending"
	StatusRecheckPending  MessageStatus = "qa_recheck_pending"
	StatusNeedsApproval   MessageStatus = "needs_approval"
	StatusReadyToSend     MessageStatus = "ready_to_send"
	StatusNeedsHuman      MessageStatus = "needs_human"
	StatusIgnored         MessageStatus = "ignored"
)

// SendStatus tracks provider delivery of an outbound draft.
type SendStatus string

const (
	SendNone    SendStatus = ""
	SendPending SendStatus = "pending"
	SendSending SendStatus = "sending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
)

// MessageRole distinguishes inbound lead turns from agent drafts.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is a single email turn on a lead thread. Inbound rows are created
// by the ingest collaborator; outbound drafts are created by the pipeline.
// The core mutates status and send_status only and never deletes rows.
type Message struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	LeadID           uuid.UUID     `json:"lead_id" db:"lead_id"`
	AgentID          uuid.UUID     `json:"agent_id" db:"agent_id"`
	Role             MessageRole   `json:"role" db:"role"`
	Subject          string        `json:"subject" db:"subject"`
	Body             string        `json:"body" db:"body"`
	Status           MessageStatus `json:"status" db:"status"`
	ApprovalRequired bool          `json:"approval_required" db:"approval_required"`
	SendStatus       SendStatus    `json:"send_status" db:"send_status"`
	SendError        string        `json:"send_error,omitempty" db:"send_error"`
	// Routing decision, set when an inbound message reaches route_resolved.
	RouteCategory   string  `json:"route_category,omitempty" db:"route_category"`
	RouteConfidence float64 `json:"route_confidence,omitempty" db:"route_confidence"`
	RouteReason     string  `json:"route_reason,omitempty" db:"route_reason"`
	// InReplyTo links a draft back to the inbound message it answers.
	InReplyTo *uuid.UUID `json:"in_reply_to,omitempty" db:"in_reply_to"`
	// FollowupStage is set on follow-up drafts only (0-2).
	FollowupStage *int       `json:"followup_stage,omitempty" db:"followup_stage"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true when the pipeline will not move the message again.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case StatusReadyToSend, StatusNeedsHuman, StatusIgnored:
		return true
	}
	return false
}

// IsFollowup reports whether the message is an automated follow-up draft.
func (m *Message) IsFollowup() bool { return m.FollowupStage != nil }

// DraftLock is the one-row-per-inbound-message idempotency record. The
// unique constraint on InboundMessageID is the mutex: a second insert fails
// distinguishably from "not yet created". DraftID stays nil when generation
// escalated to a human; that state is terminal for the inbound message.
type DraftLock struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	InboundMessageID uuid.UUID  `json:"inbound_message_id" db:"inbound_message_id"`
	DraftID          *uuid.UUID `json:"draft_id,omitempty" db:"draft_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// QAVerdict is the normalized outcome of a QA or recheck evaluation.
type QAVerdict string

const (
	VerdictPass QAVerdict = "pass"
	VerdictWarn QAVerdict = "warn"
	VerdictFail QAVerdict = "fail"
)

// QAArtifact is an append-only audit record of one classifier/QA/rewrite
// decision. Unique on (draft_id, stage_key) so the same draft is never
// evaluated twice under the same prompt identity.
type QAArtifact struct {
	ID        uuid.UUID `json:"id" db:"id"`
	DraftID   uuid.UUID `json:"draft_id" db:"draft_id"`
	StageKey  string    `json:"stage_key" db:"stage_key"`
	Verdict   QAVerdict `json:"verdict" db:"verdict"`
	Score     float64   `json:"score" db:"score"`
	Reason    string    `json:"reason" db:"reason"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
