package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/storage"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

// ActivityService appends comments and attachments to tickets.
type ActivityService struct {
	tx          persistence.TxManager
	tickets     repository.TicketRepository
	comments    repository.CommentRepository
	attachments repository.AttachmentRepository
	audit       repository.AuditLogRepository
	files       storage.FileStore
	dispatcher  events.Dispatcher
	clock       Clock
	sanitizer   *bluemonday.Policy
	logger      *zap.Logger
}

// ActivityDependencies bundles collaborators for ActivityService.
type ActivityDependencies struct {
	TxManager      persistence.TxManager
	TicketRepo     repository.TicketRepository
	CommentRepo    repository.CommentRepository
	AttachmentRepo repository.AttachmentRepository
	AuditRepo      repository.AuditLogRepository
	FileStore      storage.FileStore
	Dispatcher     events.Dispatcher
	Clock          Clock
	Logger         *zap.Logger
}

// AttachmentUpload is an uploaded file awaiting storage.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Content  io.Reader
}

// NewActivityService constructs the service.
func NewActivityService(deps ActivityDependencies) *ActivityService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		tx:          deps.TxManager,
		tickets:     deps.TicketRepo,
		comments:    deps.CommentRepo,
		attachments: deps.AttachmentRepo,
		audit:       deps.AuditRepo,
		files:       deps.FileStore,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger,
	}
}

// AddComment appends a comment for any actor who can view the ticket.
func (s *ActivityService) AddComment(ctx context.Context, actor Actor, ticketRef, text string) (*domain.Comment, error) {
	body := s.cleanText(text)
	if body == "" {
		return nil, apperrors.NewFieldError("text", "comment text is required")
	}

	comment := &domain.Comment{Text: body, CreatedBy: actor.ID}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ticket, err := loadTicket(ctx, s.tickets, ticketRef)
		if err != nil {
			return err
		}
		if !policy.CanView(actor.Role, actor.ID, ticket) {
			return forbidden("comment on this ticket")
		}

		comment.TicketID = ticket.ID
		if err := s.comments.Create(ctx, comment); err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		return s.audit.Create(ctx, &domain.AuditLog{
			TicketID:    ticket.ID,
			Action:      ActionCommentAdded,
			PerformedBy: actor.ID,
			Meta:        map[string]any{"comment_id": comment.ID},
		})
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventCommentAdded,
		TicketID: comment.TicketID,
		Actor:    eventActor(actor),
		Payload: events.CommentAddedPayload{
			CommentID:   comment.ID,
			BodyPreview: stringPreview(comment.Text, 120),
		},
	})
	return comment, nil
}

// AddAttachment stores an uploaded file under the ticket namespace.
func (s *ActivityService) AddAttachment(ctx context.Context, actor Actor, ticketRef string, upload AttachmentUpload) (*domain.Attachment, error) {
	if strings.TrimSpace(upload.FileName) == "" || upload.Content == nil {
		return nil, apperrors.NewFieldError("file", "file is required")
	}

	attachment := &domain.Attachment{
		FileName:   strings.TrimSpace(upload.FileName),
		MimeType:   upload.MimeType,
		UploadedBy: actor.ID,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ticket, err := loadTicket(ctx, s.tickets, ticketRef)
		if err != nil {
			return err
		}
		if !policy.CanView(actor.Role, actor.ID, ticket) {
			return forbidden("attach files to this ticket")
		}

		namespace := ticket.Key
		if namespace == "" {
			namespace = ticket.ID
		}
		key, size, err := s.files.Save(ctx, namespace, attachment.FileName, upload.Content)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidName) {
				return apperrors.NewFieldError("file", "invalid file name")
			}
			return fmt.Errorf("store attachment: %w", err)
		}
		attachment.TicketID = ticket.ID
		attachment.StorageKey = key
		attachment.SizeBytes = size

		if err := s.attachments.Create(ctx, attachment); err != nil {
			s.discard(ctx, key)
			return fmt.Errorf("create attachment: %w", err)
		}
		if err := s.audit.Create(ctx, &domain.AuditLog{
			TicketID:    ticket.ID,
			Action:      ActionAttachmentAdded,
			PerformedBy: actor.ID,
			Meta:        map[string]any{"attachment_id": attachment.ID, "file_name": attachment.FileName},
		}); err != nil {
			s.discard(ctx, key)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.dispatcher, s.clock, events.Event{
		Type:     events.EventAttachmentAdded,
		TicketID: attachment.TicketID,
		Actor:    eventActor(actor),
		Payload: events.AttachmentAddedPayload{
			AttachmentID: attachment.ID,
			FileName:     attachment.FileName,
		},
	})
	return attachment, nil
}

// OpenAttachment returns the metadata and content of one attachment of a
// ticket the actor can view. The caller closes the reader.
func (s *ActivityService) OpenAttachment(ctx context.Context, actor Actor, ticketRef, attachmentID string) (*domain.Attachment, io.ReadCloser, error) {
	ticket, err := loadTicket(ctx, s.tickets, ticketRef)
	if err != nil {
		return nil, nil, err
	}
	if !policy.CanView(actor.Role, actor.ID, ticket) {
		return nil, nil, forbidden("view this ticket")
	}

	notFound := apperrors.NewNotFound("attachment", map[string]any{"attachment_id": attachmentID})
	if !isUUID(attachmentID) {
		return nil, nil, notFound
	}
	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, notFound
		}
		return nil, nil, apperrors.MapError(err)
	}
	if attachment.TicketID != ticket.ID {
		return nil, nil, notFound
	}

	content, err := s.files.Open(ctx, attachment.StorageKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("attachment blob missing", zap.String("storage_key", attachment.StorageKey))
			return nil, nil, notFound
		}
		return nil, nil, apperrors.MapError(fmt.Errorf("open attachment: %w", err))
	}
	return attachment, content, nil
}

// cleanText strips markup but keeps the literal characters the sanitizer escapes.
func (s *ActivityService) cleanText(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(text)))
}

func (s *ActivityService) discard(ctx context.Context, key string) {
	if err := s.files.Delete(ctx, key); err != nil {
		s.logger.Warn("orphaned attachment blob", zap.String("storage_key", key), zap.Error(err))
	}
}
