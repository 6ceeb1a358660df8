// Package sender is the outbound provider boundary. The dispatcher batch
// step hands approved drafts to a Sender implementation and performs the
// send-confirmation bookkeeping: stamping the lead's outbound timestamp and
// arming the next follow-up stage.
package sender

import (
	"context"
	"time"
)

// OutboundEmail is one message handed to the provider.
type OutboundEmail struct {
	MessageID string
	To        string
	FromName  string
	FromEmail string
	Subject   string
	TextBody  string
}

// SendResult reports a provider send attempt.
type SendResult struct {
	Success    bool
	ProviderID string
	Err        error
	SentAt     time.Time
}

// Sender delivers a single email through a provider.
type Sender interface {
	Send(ctx context.Context, msg *OutboundEmail) (*SendResult, error)
}

// StubSender accepts everything without touching a provider. Used in tests
// and local development.
type StubSender struct {
	Sent []OutboundEmail
	// FailAll makes every send report failure.
	FailAll bool
}

// Send records the message and reports success unless FailAll is set.
func (s *StubSender) Send(_ context.Context, msg *OutboundEmail) (*SendResult, error) {
	s.Sent = append(s.Sent, *msg)
	if s.FailAll {
		return &SendResult{Success: false}, nil
	}
	return &SendResult{Success: true, ProviderID: "stub-" + msg.MessageID, SentAt: time.Now().UTC()}, nil
}
