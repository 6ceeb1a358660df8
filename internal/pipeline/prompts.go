package pipeline

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/leadpilot/leadpilot/internal/domain"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
)

// EscalationSentinel is the literal token the writer model emits when it
// cannot produce a reply. Its presence routes the inbound to a human.
const EscalationSentinel = "ESCALATE_TO_HUMAN"

const writerSystemPrompt = `You draft email replies on behalf of a property agent.
Write in the language of the inbound message. Be concrete, courteous and short.
Never invent facts about the property; use only the listing details provided.
If the inbound message asks something you cannot answer from the provided
context, or requests anything beyond scheduling a viewing and sharing listing
details, reply with exactly ` + EscalationSentinel + ` and nothing else.`

// maxPromptChars bounds the assembled user prompt. Inbound bodies and
// template text are truncated before the prompt is built, so one oversized
// email cannot blow the token budget.
const maxPromptChars = 6000

var liquidEngine = liquid.NewEngine()

// renderTemplate renders an agent response template with lead, agent and
// property bindings. A broken template is skipped, not fatal: the writer
// still has the rest of the context.
func renderTemplate(t *domain.ResponseTemplate, lead *domain.Lead, agent *domain.Agent, property *domain.Property) string {
	bindings := map[string]any{
		"lead": map[string]any{
			"name":  lead.Name,
			"email": lead.Email,
		},
		"agent": map[string]any{
			"name":      agent.Name,
			"signature": agent.SignatureText,
		},
	}
	if property != nil {
		bindings["property"] = map[string]any{
			"title":    property.Title,
			"address":  property.Address,
			"kind":     string(property.Kind),
			"price":    property.PriceEuro,
			"rooms":    property.Rooms,
			"area_sqm": property.AreaSqm,
		}
	}

	out, err := liquidEngine.ParseAndRenderString(t.Body, bindings)
	if err != nil {
		logger.Warn("template render failed", "template", t.Name, "error", err)
		return ""
	}
	return out
}

// buildWriterPrompt assembles the bounded user prompt for the draft writer.
func buildWriterPrompt(inbound *domain.Message, lead *domain.Lead, agent *domain.Agent, property *domain.Property, templates []*domain.ResponseTemplate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Agent: %s\n", agent.Name)
	if agent.BrandVoice != "" {
		fmt.Fprintf(&b, "Voice and style: %s\n", clip(agent.BrandVoice, 400))
	}
	if lead.Name != "" {
		fmt.Fprintf(&b, "Lead name: %s\n", lead.Name)
	}
	if property != nil {
		fmt.Fprintf(&b, "\nListing:\n%s, %s\n%s, %d EUR, %.1f rooms, %.0f sqm\n%s\n",
			property.Title, property.Address, property.Kind,
			property.PriceEuro, property.Rooms, property.AreaSqm,
			clip(property.Description, 600))
	}

	rendered := 0
	for _, t := range templates {
		if rendered >= 2 {
			break
		}
		text := renderTemplate(t, lead, agent, property)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "\nResponse template %q (adapt, do not copy verbatim):\n%s\n", t.Name, clip(text, 1200))
		rendered++
	}

	fmt.Fprintf(&b, "\nInbound message (category %s):\nSubject: %s\n\n%s\n",
		inbound.RouteCategory, clip(inbound.Subject, 200), clip(inbound.Body, 2500))
	b.WriteString("\nWrite the reply body only, no subject line.")

	return clip(b.String(), maxPromptChars)
}

const qaSystemPrompt = `You are a quality gate for automated email replies sent on behalf of a
property agent. Judge the draft against the inbound message. Respond with
strict JSON only:
{"verdict": "pass"|"warn"|"fail", "score": 0.0-1.0, "reason": "max 120 chars"}
pass = safe to send as-is. warn = fixable issues (tone, small inaccuracies,
missing courtesy). fail = wrong language, invented facts, commitments the
agent never offered, or anything unsafe.`

const qaRecheckSystemPrompt = `You re-check a reply draft that was already corrected once. Be strict:
this is the final automated gate before a human would have to step in.
Respond with strict JSON only:
{"verdict": "pass"|"warn"|"fail", "score": 0.0-1.0, "reason": "max 120 chars"}`

const rewriteSystemPrompt = `You correct a reply draft that a quality check flagged. Fix exactly the
issues named in the reviewer note, change nothing else, keep the language of
the draft. Return only the corrected reply body, no commentary.`

func buildQAPrompt(inbound, draft *domain.Message) string {
	var b strings.Builder
	if inbound != nil {
		fmt.Fprintf(&b, "Inbound message:\nSubject: %s\n\n%s\n\n",
			clip(inbound.Subject, 200), clip(inbound.Body, 2000))
	}
	fmt.Fprintf(&b, "Draft reply:\n%s\n", clip(draft.Body, 2500))
	return b.String()
}

func buildRewritePrompt(draft *domain.Message, reviewerNote string) string {
	return fmt.Sprintf("Reviewer note: %s\n\nDraft:\n%s\n",
		clip(reviewerNote, 300), clip(draft.Body, 2500))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
