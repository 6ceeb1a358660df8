package followup

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/llm"
)

const followupSystemPrompt = `You write short follow-up emails for a property agent to a lead who has
gone quiet. Write in German unless the prior conversation was in another
language. Decide yourself whether a follow-up is appropriate; when in doubt,
do not send. Respond with strict JSON only:
{"should_send": true|false, "confidence": 0.0-1.0, "text": "the email body, or empty"}`

// Stage-specific instruction. Stage 0 is a gentle reminder, stage 1 a
// reactivation attempt, stage 2 a final closing nudge.
func stageInstruction(stage int, intent domain.Intent) string {
	kind := "renting"
	if intent == domain.IntentBuy {
		kind = "buying"
	}
	switch stage {
	case 0:
		return fmt.Sprintf("Stage 1 of 3: a gentle reminder that the agent is happy to answer questions about %s the property.", kind)
	case 1:
		return fmt.Sprintf("Stage 2 of 3: a reactivation message; mention that the property interested in %s is still available and offer a viewing.", kind)
	default:
		return "Stage 3 of 3: a final, friendly closing nudge; make clear this is the last message unless the lead replies."
	}
}

type generation struct {
	ShouldSend bool    `json:"should_send"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

// generate asks the follow-up model for a stage-appropriate message.
func (s *Scheduler) generate(ctx context.Context, lead *domain.Lead, agent *domain.Agent, property *domain.Property, policy domain.Policy) (*generation, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nAgent: %s\n", stageInstruction(lead.FollowupStage, policy.Intent), agent.Name)
	if agent.BrandVoice != "" {
		fmt.Fprintf(&b, "Voice and style: %s\n", clip(agent.BrandVoice, 300))
	}
	if lead.Name != "" {
		fmt.Fprintf(&b, "Lead name: %s\n", lead.Name)
	}
	if property != nil {
		fmt.Fprintf(&b, "Property: %s, %s (%s, %d EUR)\n",
			property.Title, property.Address, property.Kind, property.PriceEuro)
	}
	if lead.LastInboundAt != nil {
		fmt.Fprintf(&b, "Last message from the lead: %s\n", lead.LastInboundAt.Format("2006-01-02"))
	}

	raw, err := s.completer.Complete(ctx, llm.Request{
		Stage:       config.StageFollowup,
		System:      followupSystemPrompt,
		User:        b.String(),
		Temperature: 0.5,
		MaxTokens:   500,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	var gen generation
	if err := llm.DecodeStrict(raw, &gen); err != nil {
		return nil, err
	}
	gen.Confidence = llm.ClampConfidence(gen.Confidence)
	return &gen, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
