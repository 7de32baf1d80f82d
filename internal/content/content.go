// Package content resolves the renderable message for one queue entry and
// personalizes it for the recipient.
package content

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/realtygenie/nurture-scheduler/internal/core"
)

// Message is a rendered subject/body pair ready for the mail transport.
type Message struct {
	Subject string
	Body    string
}

// Resolver produces the message template for one (campaign, send day) touch.
// Resolution failure is terminal for that entry: the dispatcher marks it
// failed.
type Resolver interface {
	ResolveMessage(ctx context.Context, campaignID uuid.UUID, sendDay int) (Message, error)
}

// SenderProfile carries the agent identity substituted into templates.
type SenderProfile struct {
	AgentName string
	Company   string
	City      string
}

// StoreResolver reads templates from the campaign_emails table, where the
// content-generation plane writes them.
type StoreResolver struct {
	Store *core.Store
}

func (r *StoreResolver) ResolveMessage(ctx context.Context, campaignID uuid.UUID, sendDay int) (Message, error) {
	subject, body, err := r.Store.GetCampaignEmail(ctx, campaignID, sendDay)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, Body: body}, nil
}

// Personalize replaces template placeholders with recipient and sender values.
// Unknown placeholders are left as-is.
func Personalize(m Message, recipientName string, profile SenderProfile) Message {
	repl := newReplacer(recipientName, profile)
	return Message{
		Subject: repl.Replace(m.Subject),
		Body:    repl.Replace(m.Body),
	}
}

func newReplacer(recipientName string, p SenderProfile) *strings.Replacer {
	if recipientName == "" {
		recipientName = "Recipient"
	}
	agent := p.AgentName
	if agent == "" {
		agent = "Your Agent"
	}
	company := p.Company
	if company == "" {
		company = "Your Company"
	}
	city := p.City
	if city == "" {
		city = "your city"
	}
	return strings.NewReplacer(
		"{{recipient_name}}", recipientName,
		"{{city}}", city,
		"{{agent_name}}", agent,
		"{{company}}", company,
		"{{year}}", strconv.Itoa(time.Now().Year()),
	)
}
