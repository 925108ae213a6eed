// Package ticketkey generates the short public identifiers of tickets.
package ticketkey

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	// Alphabet is the set of characters a key is drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Length is the number of characters in a key.
	Length = 8
	// MaxAttempts caps regeneration after collisions.
	MaxAttempts = 16
	// MinValidLength is the shortest stored key considered valid by the backfill.
	MinValidLength = 6
)

var (
	// ErrTaken is returned by an Inserter when the key is already used.
	ErrTaken = errors.New("ticket key already taken")
	// ErrExhausted is returned when no free key was found within MaxAttempts.
	ErrExhausted = errors.New("ticket key attempts exhausted")
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a random key of Length uppercase alphanumeric characters.
func Generate() (string, error) {
	buf := make([]byte, Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate ticket key: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether key has the generated shape.
func Valid(key string) bool {
	if len(key) != Length {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Inserter attempts to persist a record under key and reports ErrTaken on collision.
type Inserter func(ctx context.Context, key string) error

// Allocate generates keys until insert accepts one. Uniqueness is decided by
// insert, normally backed by a storage constraint, never by a separate check.
func Allocate(ctx context.Context, generate func() (string, error), insert Inserter) (string, error) {
	if generate == nil {
		generate = Generate
	}
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		key, err := generate()
		if err != nil {
			return "", err
		}
		err = insert(ctx, key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrTaken) {
			return "", err
		}
	}
	return "", ErrExhausted
}
