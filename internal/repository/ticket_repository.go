package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/policy"
)

// NoLimit disables pagination in a TicketFilter.
const NoLimit = -1

const defaultListLimit = 20

// TicketFilter captures listing parameters. Scope is mandatory; the zero
// scope matches nothing.
type TicketFilter struct {
	Scope        policy.Scope
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	SearchTerm   *string
	SLADueBefore *time.Time
	SLADueAfter  *time.Time
	SLAMissing   bool
	Limit        int
	Offset       int
}

// Workload aggregates the tickets owned by one support engineer.
type Workload struct {
	AssignedCount   int
	InProgressCount int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// Insert stores a ticket under ticket.Key and returns ErrTicketKeyTaken
	// when the key is already used.
	Insert(ctx context.Context, ticket *domain.Ticket) error
	// Update writes the editable fields. Assignment columns are left alone.
	Update(ctx context.Context, ticket *domain.Ticket) error
	// Assign sets the assignee, assignment time and status of one ticket.
	Assign(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByKey(ctx context.Context, key string) (*domain.Ticket, error)
	// GetByIDForUpdate and GetByKeyForUpdate lock the row until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error)
	GetByKeyForUpdate(ctx context.Context, key string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	CountByStatus(ctx context.Context, scope policy.Scope) (map[domain.TicketStatus]int, error)
	CountUnassigned(ctx context.Context) (int, error)
	WorkloadByAssignee(ctx context.Context) (map[string]Workload, error)
	ListWithShortKeys(ctx context.Context, minLength int) ([]domain.Ticket, error)
	// UpdateKey rekeys a ticket and returns ErrTicketKeyTaken on collision.
	UpdateKey(ctx context.Context, id, key string) error
	SetSLADue(ctx context.Context, id string, due time.Time) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, COALESCE(ticket_key, ''), title, description, category, priority, status,
        created_by, assigned_to, reporter_name, sla_due_at, assigned_at, created_at, updated_at`

func (r *ticketRepository) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (ticket_key, title, description, category, priority, status, created_by,
            assigned_to, reporter_name, sla_due_at, assigned_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
        ON CONFLICT (ticket_key) DO NOTHING
        RETURNING id, updated_at`
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Key,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.ReporterName,
		ticket.SLADueAt,
		ticket.AssignedAt,
		ticket.CreatedAt,
	).Scan(&ticket.ID, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTicketKeyTaken
	}
	return err
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, category=$3, priority=$4, status=$5,
            sla_due_at=$6, updated_at=NOW()
        WHERE id=$7
        RETURNING updated_at`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.SLADueAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
}

func (r *ticketRepository) Assign(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assigned_to=$1, assigned_at=$2, status=$3, updated_at=NOW()
        WHERE id=$4
        RETURNING updated_at`
	return persistence.Conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.AssignedTo,
		ticket.AssignedAt,
		ticket.Status,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_key=$1`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, key))
}

func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByKeyForUpdate(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_key=$1 FOR UPDATE`
	return scanTicket(persistence.Conn(ctx, r.pool).QueryRow(ctx, query, key))
}

// scopeClause appends the visibility restriction of scope. ok is false when
// the scope matches nothing.
func scopeClause(scope policy.Scope, clauses []string, args []any) ([]string, []any, bool) {
	switch scope.Kind {
	case policy.ScopeAll:
		return clauses, args, true
	case policy.ScopeCreatedBy:
		args = append(args, scope.UserID)
		return append(clauses, fmt.Sprintf("created_by=$%d", len(args))), args, true
	case policy.ScopeAssignedTo:
		args = append(args, scope.UserID)
		return append(clauses, fmt.Sprintf("assigned_to=$%d", len(args))), args, true
	}
	return clauses, args, false
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses, args, ok := scopeClause(filter.Scope, []string{"1=1"}, []any{})
	if !ok {
		return []domain.Ticket{}, nil
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SLAMissing {
		clauses = append(clauses, "sla_due_at IS NULL")
	}
	if filter.SLADueBefore != nil {
		args = append(args, *filter.SLADueBefore)
		clauses = append(clauses, fmt.Sprintf("sla_due_at < $%d", len(args)))
	}
	if filter.SLADueAfter != nil {
		args = append(args, *filter.SLADueAfter)
		clauses = append(clauses, fmt.Sprintf("sla_due_at >= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(ticket_key) LIKE %s)",
			placeholder, placeholder, placeholder))
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC`,
		ticketColumns, strings.Join(clauses, " AND "))

	if filter.Limit != NoLimit {
		limit := filter.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
	}

	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountByStatus(ctx context.Context, scope policy.Scope) (map[domain.TicketStatus]int, error) {
	counts := make(map[domain.TicketStatus]int, len(domain.TicketStatuses))
	for _, status := range domain.TicketStatuses {
		counts[status] = 0
	}

	clauses, args, ok := scopeClause(scope, []string{"1=1"}, []any{})
	if !ok {
		return counts, nil
	}

	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM tickets WHERE %s GROUP BY status`, strings.Join(clauses, " AND "))
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.TicketStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *ticketRepository) CountUnassigned(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE assigned_to IS NULL`

	var count int
	err := persistence.Conn(ctx, r.pool).QueryRow(ctx, query).Scan(&count)
	return count, err
}

func (r *ticketRepository) WorkloadByAssignee(ctx context.Context) (map[string]Workload, error) {
	const query = `
        SELECT assigned_to, COUNT(*), COUNT(*) FILTER (WHERE status = 'IN_PROGRESS')
        FROM tickets WHERE assigned_to IS NOT NULL GROUP BY assigned_to`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]Workload)
	for rows.Next() {
		var assignee string
		var load Workload
		if err := rows.Scan(&assignee, &load.AssignedCount, &load.InProgressCount); err != nil {
			return nil, err
		}
		result[assignee] = load
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListWithShortKeys(ctx context.Context, minLength int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
        FROM tickets WHERE ticket_key IS NULL OR LENGTH(ticket_key) < $1 ORDER BY created_at`
	rows, err := persistence.Conn(ctx, r.pool).Query(ctx, query, minLength)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) UpdateKey(ctx context.Context, id, key string) error {
	const query = `UPDATE tickets SET ticket_key=$1, updated_at=NOW() WHERE id=$2`

	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, key, id)
	if isUniqueViolation(err) {
		return ErrTicketKeyTaken
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) SetSLADue(ctx context.Context, id string, due time.Time) error {
	const query = `UPDATE tickets SET sla_due_at=$1, updated_at=NOW() WHERE id=$2`

	cmd, err := persistence.Conn(ctx, r.pool).Exec(ctx, query, due, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Key,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedBy,
		&ticket.AssignedTo,
		&ticket.ReporterName,
		&ticket.SLADueAt,
		&ticket.AssignedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
