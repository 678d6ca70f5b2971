package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the outbound mail delivery port.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// Message is one fully rendered email ready for hand-off.
type Message struct {
	To        string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	TextBody  string
	HTMLBody  string
	Tags      map[string]string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.FromEmail) == "" {
		return fmt.Errorf("sender address is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if m.TextBody == "" && m.HTMLBody == "" {
		return fmt.Errorf("text or html body is required")
	}
	return nil
}

// From formats the sender as an RFC 5322 mailbox.
func (m Message) From() string {
	name := strings.TrimSpace(m.FromName)
	if name == "" {
		return m.FromEmail
	}
	return fmt.Sprintf("%s <%s>", name, m.FromEmail)
}

// ProviderResponse stores provider call metadata for the sent-email record.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
