package domain

import "time"

// Comment is an append-only note on a ticket thread.
type Comment struct {
	ID        string
	TicketID  string
	Text      string
	CreatedBy string
	CreatedAt time.Time
}

// Attachment references an uploaded file stored by the file-storage collaborator.
type Attachment struct {
	ID         string
	TicketID   string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
	UploadedBy string
	UploadedAt time.Time
}

// AuditLog is an immutable trail entry, one per mutating action.
type AuditLog struct {
	ID          string
	TicketID    string
	Action      string
	PerformedBy string
	Meta        map[string]any
	Timestamp   time.Time
}
