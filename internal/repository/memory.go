package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
)

// InMemoryGuestRepository keeps guests in process memory. Each guest has its
// own one-slot lock so LockingUpdate on different guests never contends.
type InMemoryGuestRepository struct {
	mu          sync.RWMutex
	guests      map[uuid.UUID]*domain.Guest
	tokens      map[string]uuid.UUID
	rows        map[uuid.UUID]chan struct{}
	lockTimeout time.Duration
}

// NewInMemoryGuestRepository creates an empty store. A positive lockTimeout
// bounds how long LockingUpdate waits for a busy guest.
func NewInMemoryGuestRepository(lockTimeout time.Duration) *InMemoryGuestRepository {
	return &InMemoryGuestRepository{
		guests:      make(map[uuid.UUID]*domain.Guest),
		tokens:      make(map[string]uuid.UUID),
		rows:        make(map[uuid.UUID]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

func (r *InMemoryGuestRepository) Create(ctx context.Context, guest *domain.Guest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if guest == nil {
		return fmt.Errorf("guest is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[guest.Token]; ok {
		return ErrDuplicateToken
	}
	if _, ok := r.guests[guest.ID]; ok {
		return fmt.Errorf("guest %s already exists", guest.ID)
	}

	r.guests[guest.ID] = guest.Clone()
	r.tokens[guest.Token] = guest.ID
	return nil
}

func (r *InMemoryGuestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	guest, ok := r.guests[id]
	if !ok {
		return nil, ErrGuestNotFound
	}
	return guest.Clone(), nil
}

func (r *InMemoryGuestRepository) GetByToken(ctx context.Context, token string) (*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.tokens[token]
	if !ok {
		return nil, ErrGuestNotFound
	}
	guest, ok := r.guests[id]
	if !ok {
		return nil, ErrGuestNotFound
	}
	return guest.Clone(), nil
}

func (r *InMemoryGuestRepository) LockingUpdate(ctx context.Context, id uuid.UUID, mutate Mutator) (*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	release, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.RLock()
	current, ok := r.guests[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrGuestNotFound
	}

	work := current.Clone()
	changed, err := mutate(work)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current.Clone(), nil
	}
	work.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	if work.Token != current.Token {
		if owner, taken := r.tokens[work.Token]; taken && owner != id {
			return nil, ErrDuplicateToken
		}
		delete(r.tokens, current.Token)
		r.tokens[work.Token] = id
	}
	r.guests[id] = work.Clone()
	return work, nil
}

func (r *InMemoryGuestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	release, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()

	guest, ok := r.guests[id]
	if !ok {
		return ErrGuestNotFound
	}

	delete(r.tokens, guest.Token)
	delete(r.guests, id)
	delete(r.rows, id)
	return nil
}

func (r *InMemoryGuestRepository) List(ctx context.Context) ([]*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := make([]*domain.Guest, 0, len(r.guests))
	for _, guest := range r.guests {
		result = append(result, guest.Clone())
	}
	r.mu.RUnlock()

	sortGuests(result)
	return result, nil
}

func (r *InMemoryGuestRepository) CountArrivals(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	arrived := 0
	for _, guest := range r.guests {
		if guest.Arrived() {
			arrived++
		}
	}
	return len(r.guests), arrived, nil
}

// acquire takes the row lock of id, giving up after lockTimeout or when ctx
// ends. Unknown guests get no row lock.
func (r *InMemoryGuestRepository) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	r.mu.Lock()
	if _, exists := r.guests[id]; !exists {
		r.mu.Unlock()
		return nil, ErrGuestNotFound
	}
	row, ok := r.rows[id]
	if !ok {
		row = make(chan struct{}, 1)
		r.rows[id] = row
	}
	r.mu.Unlock()

	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	select {
	case row <- struct{}{}:
		return func() { <-row }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: guest %s is locked: %v", ErrTransaction, id, ctx.Err())
	}
}

func sortGuests(guests []*domain.Guest) {
	sort.SliceStable(guests, func(i, j int) bool {
		a, b := strings.ToLower(guests[i].FullName), strings.ToLower(guests[j].FullName)
		if a != b {
			return a < b
		}
		return guests[i].ID.String() < guests[j].ID.String()
	})
}

type InMemoryOperatorRepository struct {
	mu        sync.RWMutex
	operators map[uuid.UUID]*domain.Operator
	usernames map[string]uuid.UUID
}

func NewInMemoryOperatorRepository() *InMemoryOperatorRepository {
	return &InMemoryOperatorRepository{
		operators: make(map[uuid.UUID]*domain.Operator),
		usernames: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryOperatorRepository) Create(ctx context.Context, operator *domain.Operator) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usernames[operator.Username]; ok {
		return ErrOperatorNameExists
	}

	cp := *operator
	r.operators[operator.ID] = &cp
	r.usernames[operator.Username] = operator.ID
	return nil
}

func (r *InMemoryOperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	operator, ok := r.operators[id]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *operator
	return &cp, nil
}

func (r *InMemoryOperatorRepository) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.usernames[username]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *r.operators[id]
	return &cp, nil
}

func (r *InMemoryOperatorRepository) Update(ctx context.Context, operator *domain.Operator) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.operators[operator.ID]
	if !ok {
		return ErrOperatorNotFound
	}
	if owner, taken := r.usernames[operator.Username]; taken && owner != operator.ID {
		return ErrOperatorNameExists
	}

	delete(r.usernames, existing.Username)
	cp := *operator
	r.operators[operator.ID] = &cp
	r.usernames[operator.Username] = operator.ID
	return nil
}
