package repository

//go:generate mockgen -destination=mock/guest_repository.go -package=mock github.com/immxrtalbeast/checkin/internal/repository GuestRepository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
)

var (
	ErrGuestNotFound      = errors.New("guest not found")
	ErrDuplicateToken     = errors.New("guest token already exists")
	ErrTransaction        = errors.New("guest transaction failed")
	ErrOperatorNotFound   = errors.New("operator not found")
	ErrOperatorNameExists = errors.New("operator with username already exists")
)

// Mutator edits guest in place inside LockingUpdate. Returning changed=false
// skips the write; a non-nil error aborts the update and is returned as is.
type Mutator func(guest *domain.Guest) (changed bool, err error)

type GuestRepository interface {
	Create(ctx context.Context, guest *domain.Guest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Guest, error)
	GetByToken(ctx context.Context, token string) (*domain.Guest, error)
	// LockingUpdate runs mutate with exclusive access to one guest record
	// and persists the result atomically.
	LockingUpdate(ctx context.Context, id uuid.UUID, mutate Mutator) (*domain.Guest, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.Guest, error)
	// CountArrivals returns the number of guests and how many have arrived.
	CountArrivals(ctx context.Context) (total, arrived int, err error)
}

type OperatorRepository interface {
	Create(ctx context.Context, operator *domain.Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error)
	GetByUsername(ctx context.Context, username string) (*domain.Operator, error)
	Update(ctx context.Context, operator *domain.Operator) error
}
