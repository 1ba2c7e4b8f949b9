package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxIDAttempts bounds the number of ids drawn before giving up.
const MaxIDAttempts = 8

// ErrIDExhausted is returned when no unused id was found within MaxIDAttempts.
var ErrIDExhausted = errors.New("no unused id found")

// ExistsFunc is a uniqueness oracle bound to one table.
type ExistsFunc func(ctx context.Context, id uuid.UUID) (bool, error)

// NewID draws random ids until exists reports one as unused.
// The check is not a reservation: a concurrent caller may draw the same id
// before either inserts it, so inserts must still handle ErrDuplicateID.
func NewID(ctx context.Context, exists ExistsFunc) (uuid.UUID, error) {
	for range MaxIDAttempts {
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		id, err := uuid.NewRandom()
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to generate id: %w", err)
		}

		taken, err := exists(ctx, id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to check id: %w", err)
		}
		if !taken {
			return id, nil
		}
	}
	return uuid.Nil, ErrIDExhausted
}

// InsertWithUniqueID allocates an id with NewID and runs insert with it,
// drawing a fresh id whenever insert reports ErrDuplicateID.
func InsertWithUniqueID(ctx context.Context, exists ExistsFunc, insert func(ctx context.Context, id uuid.UUID) error) (uuid.UUID, error) {
	for range MaxIDAttempts {
		id, err := NewID(ctx, exists)
		if err != nil {
			return uuid.Nil, err
		}

		err = insert(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, ErrIDExhausted
}
