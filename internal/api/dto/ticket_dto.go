package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    string `json:"priority"`
}

// CreateEmergencyTicketRequest payload for tickets raised on behalf of a reporter.
type CreateEmergencyTicketRequest struct {
	CreateTicketRequest
	ReporterName string `json:"reporter_name"`
}

// UpdateTicketRequest payload. Omitted fields stay unchanged.
type UpdateTicketRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

// TicketSummary response.
type TicketSummary struct {
	ID           string                `json:"id"`
	TicketID     string                `json:"ticket_id"`
	Title        string                `json:"title"`
	Category     string                `json:"category"`
	Priority     domain.TicketPriority `json:"priority"`
	Status       domain.TicketStatus   `json:"status"`
	CreatedBy    string                `json:"created_by"`
	AssignedTo   *string               `json:"assigned_to"`
	ReporterName *string               `json:"reporter_name,omitempty"`
	SLADueAt     *time.Time            `json:"sla_due_at"`
	AssignedAt   *time.Time            `json:"assigned_at"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description string               `json:"description"`
	Comments    []CommentResponse    `json:"comments"`
	Attachments []AttachmentResponse `json:"attachments"`
	AuditTrail  []AuditLogResponse   `json:"audit_trail"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Text string `json:"text"`
}

// CommentResponse represents one thread entry.
type CommentResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
	URL        string    `json:"url"`
}

// AuditLogResponse is one audit trail entry.
type AuditLogResponse struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	Meta        map[string]any `json:"meta"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewTicketSummary maps a ticket to its list representation.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:           t.ID,
		TicketID:     t.Key,
		Title:        t.Title,
		Category:     t.Category,
		Priority:     t.Priority,
		Status:       t.Status,
		CreatedBy:    t.CreatedBy,
		AssignedTo:   t.AssignedTo,
		ReporterName: t.ReporterName,
		SLADueAt:     t.SLADueAt,
		AssignedAt:   t.AssignedAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// NewTicketDetail maps a ticket with its thread.
func NewTicketDetail(t *domain.Ticket, comments []domain.Comment, attachments []domain.Attachment, audit []domain.AuditLog) TicketDetailResponse {
	resp := TicketDetailResponse{
		TicketSummary: NewTicketSummary(t),
		Description:   t.Description,
		Comments:      make([]CommentResponse, 0, len(comments)),
		Attachments:   make([]AttachmentResponse, 0, len(attachments)),
		AuditTrail:    make([]AuditLogResponse, 0, len(audit)),
	}
	for i := range comments {
		resp.Comments = append(resp.Comments, NewCommentResponse(&comments[i]))
	}
	for i := range attachments {
		resp.Attachments = append(resp.Attachments, NewAttachmentResponse(&attachments[i]))
	}
	for _, entry := range audit {
		resp.AuditTrail = append(resp.AuditTrail, AuditLogResponse{
			ID:          entry.ID,
			Action:      entry.Action,
			PerformedBy: entry.PerformedBy,
			Meta:        entry.Meta,
			Timestamp:   entry.Timestamp,
		})
	}
	return resp
}

// NewCommentResponse maps a comment.
func NewCommentResponse(c *domain.Comment) CommentResponse {
	return CommentResponse{ID: c.ID, Text: c.Text, CreatedBy: c.CreatedBy, CreatedAt: c.CreatedAt}
}

// NewAttachmentResponse maps attachment metadata. The storage key stays internal.
func NewAttachmentResponse(a *domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:         a.ID,
		FileName:   a.FileName,
		MimeType:   a.MimeType,
		SizeBytes:  a.SizeBytes,
		UploadedBy: a.UploadedBy,
		UploadedAt: a.UploadedAt,
		URL:        "/api/tickets/" + a.TicketID + "/attachments/" + a.ID,
	}
}
