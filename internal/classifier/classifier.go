// Package classifier decides whether an inbound message may be auto-replied
// to. A chain of deterministic rules runs first; only inconclusive messages
// reach the AI fallback, and its output is re-validated against fail-closed
// thresholds. When uncertain the system always lands on the least
// autonomous outcome.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/llm"
	"github.com/leadpilot/leadpilot/internal/pkg/logger"
)

// Action is the routing decision for an inbound message.
type Action string

const (
	ActionAutoReply     Action = "auto_reply"
	ActionNeedsApproval Action = "needs_approval"
	ActionIgnore        Action = "ignore"
)

// Category tags the kind of email the decision was made for.
type Category string

const (
	CategoryLead       Category = "LEAD"
	CategoryPortal     Category = "PORTAL"
	CategorySystem     Category = "SYSTEM"
	CategoryNewsletter Category = "NEWSLETTER"
	CategoryBilling    Category = "BILLING"
	CategorySpam       Category = "SPAM"
	CategoryUnknown    Category = "UNKNOWN"
)

var validActions = map[Action]bool{
	ActionAutoReply:     true,
	ActionNeedsApproval: true,
	ActionIgnore:        true,
}

var validCategories = map[Category]bool{
	CategoryLead:       true,
	CategoryPortal:     true,
	CategorySystem:     true,
	CategoryNewsletter: true,
	CategoryBilling:    true,
	CategorySpam:       true,
	CategoryUnknown:    true,
}

// autoReplyConfidenceFloor is the fail-closed threshold: an AI decision may
// only keep auto_reply at or above this confidence.
const autoReplyConfidenceFloor = 0.97

// Decision is the classifier's output for one inbound message.
type Decision struct {
	Action     Action   `json:"decision"`
	Category   Category `json:"email_type"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	// Source is "rule" for deterministic decisions, "ai" for the fallback.
	Source string `json:"source"`
}

// rule is one ordered predicate. A nil result defers to the next rule.
type rule struct {
	name string
	eval func(Email) *Decision
}

// Classifier runs the rule chain with an AI fallback.
type Classifier struct {
	completer llm.Completer
	rules     []rule
}

// New builds a classifier on the given completion client.
func New(completer llm.Completer) *Classifier {
	c := &Classifier{completer: completer}
	c.rules = []rule{
		{name: "bounce", eval: ruleBounce},
		{name: "portal_inquiry", eval: rulePortalInquiry},
		{name: "no_reply", eval: ruleNoReply},
		{name: "newsletter", eval: ruleNewsletter},
		{name: "billing", eval: ruleBilling},
	}
	return c
}

// ruleBounce drops bounce and system notifications outright.
func ruleBounce(e Email) *Decision {
	if !isBounce(e) {
		return nil
	}
	return &Decision{
		Action:     ActionIgnore,
		Category:   CategorySystem,
		Confidence: 1,
		Reason:     "bounce or system notification",
		Source:     "rule",
	}
}

// rulePortalInquiry is the only path to full autonomy without the AI
// fallback: a known portal, clear inquiry keywords, a working reply relay,
// and a From that is not a no-reply mailbox.
func rulePortalInquiry(e Email) *Decision {
	if isNoReplySender(e) {
		return nil // no-reply senders are handled by ruleNoReply
	}
	if !isPortalLike(e) || !hasInquirySignal(e) || !relayAllowed(e) {
		return nil
	}
	return &Decision{
		Action:     ActionAutoReply,
		Category:   CategoryPortal,
		Confidence: 1,
		Reason:     "portal inquiry with allowed reply relay",
		Source:     "rule",
	}
}

// ruleNoReply gates no-reply senders. With a working relay and inquiry
// keywords the AI may look at it; anything else needs a human.
func ruleNoReply(e Email) *Decision {
	if !isNoReplySender(e) {
		return nil
	}
	if relayAllowed(e) && hasInquirySignal(e) {
		return nil // defer to AI
	}
	cat := CategoryUnknown
	if isPortalLike(e) {
		cat = CategoryPortal
	}
	return &Decision{
		Action:     ActionNeedsApproval,
		Category:   cat,
		Confidence: 1,
		Reason:     "no-reply sender without usable reply relay",
		Source:     "rule",
	}
}

// ruleNewsletter drops bulk mail unless it smells like a lead, in which
// case the AI decides.
func ruleNewsletter(e Email) *Decision {
	if !isNewsletterLike(e) {
		return nil
	}
	if isPortalLike(e) || hasInquirySignal(e) {
		return nil // defer to AI
	}
	return &Decision{
		Action:     ActionIgnore,
		Category:   CategoryNewsletter,
		Confidence: 1,
		Reason:     "bulk or newsletter signals",
		Source:     "rule",
	}
}

func ruleBilling(e Email) *Decision {
	if !isBillingLike(e) {
		return nil
	}
	return &Decision{
		Action:     ActionNeedsApproval,
		Category:   CategoryBilling,
		Confidence: 1,
		Reason:     "billing or invoice keywords",
		Source:     "rule",
	}
}

// Classify runs the rule chain and, when every rule defers, the AI
// fallback. The fail-closed override and the no-reply guard are applied to
// every AI decision regardless of what the model said.
func (c *Classifier) Classify(ctx context.Context, e Email) (Decision, error) {
	for _, r := range c.rules {
		if d := r.eval(e); d != nil {
			logger.Debug("classifier rule decided",
				"rule", r.name, "action", string(d.Action), "category", string(d.Category))
			return *d, nil
		}
	}

	d, err := c.classifyWithAI(ctx, e)
	if err != nil {
		return Decision{}, err
	}
	return c.enforceFailClosed(e, d), nil
}

// enforceFailClosed applies the absolute invariants to an AI decision:
// auto_reply survives only for LEAD/PORTAL at confidence >= 0.97, and never
// for a no-reply sender unless the portal+inquiry+relay condition holds.
func (c *Classifier) enforceFailClosed(e Email, d Decision) Decision {
	if d.Action == ActionAutoReply {
		trusted := (d.Category == CategoryLead || d.Category == CategoryPortal) &&
			d.Confidence >= autoReplyConfidenceFloor
		if !trusted {
			d.Action = ActionNeedsApproval
			d.Reason = "downgraded: below auto-reply threshold"
		}
	}

	if d.Action == ActionAutoReply && isNoReplySender(e) {
		if !(isPortalLike(e) && hasInquirySignal(e) && relayAllowed(e)) {
			d.Action = ActionNeedsApproval
			d.Reason = "downgraded: no-reply sender without portal relay"
		}
	}
	return d
}

const classifierSystemPrompt = `You classify inbound emails for a property agent's reply automation.
Decide whether the agent's assistant may reply automatically. If you are not
certain, fail closed: choose "needs_approval". Respond with strict JSON only:
{"decision": "auto_reply"|"needs_approval"|"ignore",
 "email_type": "LEAD"|"PORTAL"|"SYSTEM"|"NEWSLETTER"|"BILLING"|"SPAM"|"UNKNOWN",
 "confidence": 0.0-1.0,
 "reason": "short explanation, max 120 chars"}`

type aiClassification struct {
	Decision   string  `json:"decision"`
	EmailType  string  `json:"email_type"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (c *Classifier) classifyWithAI(ctx context.Context, e Email) (Decision, error) {
	user := fmt.Sprintf(
		"Subject: %s\nFrom: %s\nReply-To: %s\nTo: %s\nList-Unsubscribe: %t\nBulk: %t\nNo-Reply: %t\n\nBody snippet:\n%s",
		e.Subject, e.From, e.ReplyTo, e.To,
		e.HasListUnsubscribe, e.IsBulk, e.IsNoReply,
		snippet(e.BodySnippet, 600))

	raw, err := c.completer.Complete(ctx, llm.Request{
		Stage:       config.StageClassifier,
		System:      classifierSystemPrompt,
		User:        user,
		Temperature: 0,
		MaxTokens:   200,
		JSONOnly:    true,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classifier: %w", err)
	}

	var parsed aiClassification
	if err := llm.DecodeStrict(raw, &parsed); err != nil {
		return Decision{}, fmt.Errorf("classifier: %w", err)
	}

	action := Action(parsed.Decision)
	category := Category(strings.ToUpper(parsed.EmailType))
	if !validActions[action] {
		return Decision{}, &llm.SchemaError{Field: "decision", Reason: "outside closed enum: " + parsed.Decision}
	}
	if !validCategories[category] {
		return Decision{}, &llm.SchemaError{Field: "email_type", Reason: "outside closed enum: " + parsed.EmailType}
	}

	return Decision{
		Action:     action,
		Category:   category,
		Confidence: llm.ClampConfidence(parsed.Confidence),
		Reason:     snippet(parsed.Reason, 120),
		Source:     "ai",
	}, nil
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
