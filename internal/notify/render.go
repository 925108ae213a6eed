package notify

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	mdhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Renderer builds notification mail from ticket state.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer builds a renderer with GitHub flavored Markdown for descriptions.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(mdhtml.WithHardWraps()),
	)
	return &Renderer{md: md, policy: bluemonday.UGCPolicy()}
}

// DescriptionHTML renders a Markdown description to sanitized HTML.
func (r *Renderer) DescriptionHTML(description string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(description), &buf); err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Assignment renders the mail sent to a newly assigned engineer.
func (r *Renderer) Assignment(ticket *domain.Ticket, assignee *domain.User, notes string) (Message, error) {
	description, err := r.DescriptionHTML(ticket.Description)
	if err != nil {
		return Message{}, err
	}

	subject := fmt.Sprintf("[%s] Ticket assigned: %s", ticket.Key, ticket.Title)

	var plain strings.Builder
	fmt.Fprintf(&plain, "Hello %s,\n\n", assignee.DisplayName())
	fmt.Fprintf(&plain, "Ticket %s has been assigned to you.\n\n", ticket.Key)
	writeTicketSummary(&plain, ticket)
	if notes != "" {
		fmt.Fprintf(&plain, "\nNotes: %s\n", notes)
	}
	fmt.Fprintf(&plain, "\n%s\n", ticket.Description)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hello %s,</p>", html.EscapeString(assignee.DisplayName()))
	fmt.Fprintf(&body, "<p>Ticket <strong>%s</strong> has been assigned to you.</p>", html.EscapeString(ticket.Key))
	writeTicketSummaryHTML(&body, ticket)
	if notes != "" {
		fmt.Fprintf(&body, "<p><em>Notes:</em> %s</p>", html.EscapeString(notes))
	}
	body.WriteString(description)

	return Message{
		To:        []string{assignee.Email},
		Subject:   subject,
		PlainBody: plain.String(),
		HTMLBody:  wrapHTML(body.String()),
	}, nil
}

// StatusChanged renders the mail sent to stakeholders after a status move.
func (r *Renderer) StatusChanged(ticket *domain.Ticket, from, to domain.TicketStatus, recipients []string) (Message, error) {
	description, err := r.DescriptionHTML(ticket.Description)
	if err != nil {
		return Message{}, err
	}

	subject := fmt.Sprintf("[%s] Status changed to %s: %s", ticket.Key, to.Label(), ticket.Title)

	var plain strings.Builder
	fmt.Fprintf(&plain, "Ticket %s moved from %s to %s.\n\n", ticket.Key, from.Label(), to.Label())
	writeTicketSummary(&plain, ticket)
	fmt.Fprintf(&plain, "\n%s\n", ticket.Description)

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Ticket <strong>%s</strong> moved from %s to <strong>%s</strong>.</p>",
		html.EscapeString(ticket.Key), from.Label(), to.Label())
	writeTicketSummaryHTML(&body, ticket)
	body.WriteString(description)

	return Message{
		To:        recipients,
		Subject:   subject,
		PlainBody: plain.String(),
		HTMLBody:  wrapHTML(body.String()),
	}, nil
}

func writeTicketSummary(b *strings.Builder, ticket *domain.Ticket) {
	fmt.Fprintf(b, "Title: %s\n", ticket.Title)
	fmt.Fprintf(b, "Category: %s\n", ticket.Category)
	fmt.Fprintf(b, "Priority: %s\n", ticket.Priority.Label())
	fmt.Fprintf(b, "Status: %s\n", ticket.Status.Label())
	if ticket.SLADueAt != nil {
		fmt.Fprintf(b, "SLA due: %s\n", ticket.SLADueAt.Format("2006-01-02 15:04 MST"))
	}
}

func writeTicketSummaryHTML(b *strings.Builder, ticket *domain.Ticket) {
	b.WriteString("<ul>")
	fmt.Fprintf(b, "<li>Title: %s</li>", html.EscapeString(ticket.Title))
	fmt.Fprintf(b, "<li>Category: %s</li>", html.EscapeString(ticket.Category))
	fmt.Fprintf(b, "<li>Priority: %s</li>", ticket.Priority.Label())
	fmt.Fprintf(b, "<li>Status: %s</li>", ticket.Status.Label())
	if ticket.SLADueAt != nil {
		fmt.Fprintf(b, "<li>SLA due: %s</li>", ticket.SLADueAt.Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("</ul>")
}

func wrapHTML(inner string) string {
	return "<html><body>" + inner + "</body></html>"
}
