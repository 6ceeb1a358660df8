package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowupStatus enumerates the follow-up schedule states of a lead.
// There is exactly one active schedule per lead; these states describe it.
type FollowupStatus string

const (
	FollowupPlanned FollowupStatus = "planned"
	FollowupDue     FollowupStatus = "due"
	FollowupFailed  FollowupStatus = "failed"
	FollowupSending FollowupStatus = "sending"
	FollowupIdle    FollowupStatus = "idle"
)

// MaxFollowupStage is the hard ceiling on follow-up stages (0-2).
const MaxFollowupStage = 2

// Lead is one prospective client and their message thread.
type Lead struct {
	ID         uuid.UUID `json:"id" db:"id"`
	AgentID    uuid.UUID `json:"agent_id" db:"agent_id"`
	PropertyID *uuid.UUID `json:"property_id,omitempty" db:"property_id"`
	Email      string     `json:"email" db:"email"`
	Name       string     `json:"name" db:"name"`
	// Provider-side thread identity (portal conversation / mailbox thread).
	ProviderThreadID string `json:"provider_thread_id" db:"provider_thread_id"`

	FollowupEnabled *bool          `json:"followup_enabled,omitempty" db:"followup_enabled"`
	FollowupStage   int            `json:"followup_stage" db:"followup_stage"`
	FollowupStatus  FollowupStatus `json:"followup_status" db:"followup_status"`
	FollowupNextAt  *time.Time     `json:"followup_next_at,omitempty" db:"followup_next_at"`
	StopReason      string         `json:"stop_reason,omitempty" db:"stop_reason"`
	FailCount       int            `json:"fail_count" db:"fail_count"`
	PausedUntil     *time.Time     `json:"paused_until,omitempty" db:"paused_until"`

	// Per-lead policy overrides; nil falls through to property then agent.
	MaxStageOverride *int `json:"max_stage_override,omitempty" db:"max_stage_override"`

	LastInboundAt  *time.Time `json:"last_inbound_at,omitempty" db:"last_inbound_at"`
	LastOutboundAt *time.Time `json:"last_outbound_at,omitempty" db:"last_outbound_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// RepliedLast reports whether the most recent activity on the thread came
// from the lead. Follow-ups must never fire in that case.
func (l *Lead) RepliedLast() bool {
	if l.LastInboundAt == nil {
		return false
	}
	if l.LastOutboundAt == nil {
		return true
	}
	return l.LastInboundAt.After(*l.LastOutboundAt)
}

// Intent is the inferred interest of a lead, used to pick follow-up tone.
type Intent string

const (
	IntentRent Intent = "rent"
	IntentBuy  Intent = "buy"
)

// Agent is the property agent on whose behalf replies are drafted.
type Agent struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Email           string    `json:"email" db:"email"`
	AutosendEnabled bool      `json:"autosend_enabled" db:"autosend_enabled"`
	BrandVoice      string    `json:"brand_voice" db:"brand_voice"`
	SignatureText   string    `json:"signature_text" db:"signature_text"`

	// Agent-level follow-up defaults (lowest precedence layer).
	FollowupEnabled   bool `json:"followup_enabled" db:"followup_enabled"`
	FollowupMaxStage  int  `json:"followup_max_stage" db:"followup_max_stage"`
	Stage1DelayHours  int  `json:"stage1_delay_hours" db:"stage1_delay_hours"`
	Stage2DelayHours  int  `json:"stage2_delay_hours" db:"stage2_delay_hours"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ListingKind distinguishes rental from sale listings.
type ListingKind string

const (
	ListingRent ListingKind = "rent"
	ListingSale ListingKind = "sale"
)

// Property is a listing a lead inquired about. Carries the middle
// policy-override layer.
type Property struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	AgentID     uuid.UUID   `json:"agent_id" db:"agent_id"`
	Title       string      `json:"title" db:"title"`
	Address     string      `json:"address" db:"address"`
	Kind        ListingKind `json:"kind" db:"kind"`
	PriceEuro   int         `json:"price_euro" db:"price_euro"`
	Rooms       float64     `json:"rooms" db:"rooms"`
	AreaSqm     float64     `json:"area_sqm" db:"area_sqm"`
	Description string      `json:"description" db:"description"`

	FollowupEnabled  *bool `json:"followup_enabled,omitempty" db:"followup_enabled"`
	MaxStageOverride *int  `json:"max_stage_override,omitempty" db:"max_stage_override"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ResponseTemplate is an agent-authored reply template. Body is a liquid
// template rendered with lead/property/agent variables when the draft
// prompt is assembled.
type ResponseTemplate struct {
	ID       uuid.UUID `json:"id" db:"id"`
	AgentID  uuid.UUID `json:"agent_id" db:"agent_id"`
	Name     string    `json:"name" db:"name"`
	Category string    `json:"category" db:"category"`
	Body     string    `json:"body" db:"body"`
	Active   bool      `json:"active" db:"active"`
}
