package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowforge-io/flowforge/pkg/condition"
	"github.com/flowforge-io/flowforge/pkg/events"
)

// OutboundMessage is a resolved message handed to the transport collaborator.
type OutboundMessage struct {
	MessageType string // Email, SMS, Webhook, ...
	To          string
	Subject     string
	Body        string
	HTML        bool
}

// Transport delivers outbound messages. Concrete email/SMS/webhook delivery
// lives outside the engine; LogTransport simulates it.
type Transport interface {
	Send(ctx context.Context, msg *OutboundMessage) error
}

// LogTransport logs outbound messages instead of delivering them.
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, msg *OutboundMessage) error {
	t.Logger.Info("simulated message delivery",
		"messageType", msg.MessageType, "to", msg.To, "subject", msg.Subject,
		"bodyLength", len(msg.Body))
	return nil
}

// sendExecutor resolves ${...} templates in every field and hands the message
// to the transport. When includeApprovalLinks is set, approve/deny webhook
// URLs for the configured approval correlation pair are appended to the body.
type sendExecutor struct {
	deps *Deps
}

func (e *sendExecutor) Execute(ctx context.Context, act *Activation) error {
	props := act.Element.Properties

	msg := &OutboundMessage{
		MessageType: props.String("messageType"),
		To:          condition.Resolve(props.String("to"), act.Context),
		Subject:     condition.Resolve(props.String("subject"), act.Context),
		Body:        condition.Resolve(props.String("messageBody"), act.Context),
		HTML:        props.Bool("htmlFormat"),
	}
	if msg.To == "" {
		msg.To = e.deps.DefaultRecipient
	}

	if props.Bool("includeApprovalLinks") {
		ref := condition.Resolve(props.String("approvalMessageRef"), act.Context)
		key := condition.Resolve(props.String("approvalCorrelationKey"), act.Context)
		msg.Body += e.approvalLinks(ref, key, msg.HTML)
	}

	transport := e.deps.Transport
	if transport == nil {
		transport = &LogTransport{Logger: e.deps.Logger}
	}
	if err := transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("send task %s: %w", act.Element.ID, err)
	}

	e.deps.Publisher.Publish(events.EventTaskProgress, act.Element.ID, events.TaskProgressPayload{
		Type:      events.EventTaskProgress,
		ElementID: act.Element.ID,
		Progress:  1,
		Message:   fmt.Sprintf("%s sent to %s", msg.MessageType, msg.To),
		Timestamp: events.Timestamp(),
	})
	return nil
}

func (e *sendExecutor) approvalLinks(messageRef, correlationKey string, html bool) string {
	base := strings.TrimRight(e.deps.PublicBaseURL, "/")
	approve := fmt.Sprintf("%s/webhooks/approve/%s/%s", base, messageRef, correlationKey)
	deny := fmt.Sprintf("%s/webhooks/deny/%s/%s", base, messageRef, correlationKey)

	if html {
		return fmt.Sprintf("<p><a href=%q>Approve</a> | <a href=%q>Deny</a></p>", approve, deny)
	}
	return fmt.Sprintf("\n\nApprove: %s\nDeny: %s\n", approve, deny)
}
