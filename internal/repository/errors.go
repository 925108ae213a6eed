package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/helpdesk/internal/ticketkey"
)

var (
	// ErrTicketKeyTaken reports a ticket key collision on insert or rekey.
	ErrTicketKeyTaken = ticketkey.ErrTaken
	// ErrUsernameTaken reports a duplicate username on registration.
	ErrUsernameTaken = errors.New("username already taken")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
