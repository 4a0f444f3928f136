package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuest(name, token string) *domain.Guest {
	return domain.NewGuest(domain.GuestInput{FullName: name, Role: "Guest"}, token, time.Now().UTC())
}

// assertSingleArrival races scanners on one guest, each with its own device
// and clock reading, and checks that exactly one wins and that the stored
// arrival is the winner's.
func assertSingleArrival(t *testing.T, repo GuestRepository, id uuid.UUID, scanners int) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 9, 15, 19, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*domain.Guest
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won := false
			updated, err := repo.LockingUpdate(ctx, id, func(g *domain.Guest) (bool, error) {
				won = g.MarkArrived(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("Door-%d", i))
				return won, nil
			})
			if !assert.NoError(t, err) || !won {
				return
			}
			mu.Lock()
			winners = append(winners, updated)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	winner := winners[0]
	require.NotNil(t, winner.ArrivalTime)

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateArrived, stored.State)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(*winner.ArrivalTime),
		"stored %s, winner %s", stored.ArrivalTime, winner.ArrivalTime)
	assert.Equal(t, winner.CheckedInBy, stored.CheckedInBy)
}

func TestInMemoryGuestRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	byID, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", byID.FullName)

	byToken, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, byToken.ID)

	_, err = repo.GetByToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrGuestNotFound)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestInMemoryGuestRepository_DuplicateTokenIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	first := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newTestGuest("Luis Mora", "tok-1"))
	require.ErrorIs(t, err, ErrDuplicateToken)

	stored, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
}

func TestInMemoryGuestRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	got, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	got.FullName = "changed"

	again, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", again.FullName)
}

func TestInMemoryGuestRepository_LockingUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	at := time.Date(2025, 9, 15, 19, 0, 0, 0, time.UTC)
	updated, err := repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(at, "Door-1"), nil
	})
	require.NoError(t, err)
	assert.True(t, updated.Arrived())

	stored, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(at))
	assert.Equal(t, "Door-1", stored.CheckedInBy)

	boom := errors.New("boom")
	_, err = repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		g.FullName = "half written"
		return true, boom
	})
	require.ErrorIs(t, err, boom)

	stored, err = repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", stored.FullName)

	_, err = repo.LockingUpdate(ctx, uuid.New(), func(*domain.Guest) (bool, error) { return true, nil })
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestInMemoryGuestRepository_TokenChange(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	ana := newTestGuest("Ana Ruiz", "tok-1")
	luis := newTestGuest("Luis Mora", "tok-2")
	require.NoError(t, repo.Create(ctx, ana))
	require.NoError(t, repo.Create(ctx, luis))

	_, err := repo.LockingUpdate(ctx, ana.ID, func(g *domain.Guest) (bool, error) {
		g.Token = "tok-2"
		return true, nil
	})
	require.ErrorIs(t, err, ErrDuplicateToken)

	_, err = repo.LockingUpdate(ctx, ana.ID, func(g *domain.Guest) (bool, error) {
		g.Token = "tok-3"
		return true, nil
	})
	require.NoError(t, err)

	_, err = repo.GetByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrGuestNotFound)
	got, err := repo.GetByToken(ctx, "tok-3")
	require.NoError(t, err)
	assert.Equal(t, ana.ID, got.ID)
}

func TestInMemoryGuestRepository_ConcurrentArrivalWritesOnce(t *testing.T) {
	repo := NewInMemoryGuestRepository(5 * time.Second)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(context.Background(), guest))

	assertSingleArrival(t, repo, guest.ID, 32)
}

func TestInMemoryGuestRepository_LockTimeout(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(20 * time.Millisecond)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = repo.LockingUpdate(ctx, guest.ID, func(*domain.Guest) (bool, error) {
			close(held)
			<-done
			return false, nil
		})
	}()
	<-held

	_, err := repo.LockingUpdate(ctx, guest.ID, func(*domain.Guest) (bool, error) {
		return true, nil
	})
	close(done)
	assert.ErrorIs(t, err, ErrTransaction)
}

func TestInMemoryGuestRepository_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryGuestRepository(time.Second)

	for i, name := range []string{"zoe Diaz", "Ana Ruiz", "luis Mora"} {
		require.NoError(t, repo.Create(ctx, newTestGuest(name, "tok-"+string(rune('a'+i)))))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Ana Ruiz", list[0].FullName)
	assert.Equal(t, "luis Mora", list[1].FullName)
	assert.Equal(t, "zoe Diaz", list[2].FullName)

	_, err = repo.LockingUpdate(ctx, list[1].ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(time.Now().UTC(), "Door"), nil
	})
	require.NoError(t, err)
	total, arrived, err := repo.CountArrivals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, arrived)

	require.NoError(t, repo.Delete(ctx, list[0].ID))
	assert.ErrorIs(t, repo.Delete(ctx, list[0].ID), ErrGuestNotFound)
	_, err = repo.GetByToken(ctx, list[0].Token)
	assert.ErrorIs(t, err, ErrGuestNotFound)

	require.NoError(t, repo.Delete(ctx, list[1].ID))
	_, err = repo.LockingUpdate(ctx, list[1].ID, func(g *domain.Guest) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, ErrGuestNotFound)
	repo.mu.RLock()
	rows := len(repo.rows)
	repo.mu.RUnlock()
	assert.Zero(t, rows, "row locks of deleted guests are released")

	total, arrived, err = repo.CountArrivals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, arrived)
}

func TestInMemoryOperatorRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryOperatorRepository()

	op := domain.NewOperator("door", []byte("hash"), []domain.Capability{domain.CapabilityScan})
	require.NoError(t, repo.Create(ctx, op))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewOperator("door", nil, nil)), ErrOperatorNameExists)

	got, err := repo.GetByUsername(ctx, "door")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	got.Username = "door-2"
	require.NoError(t, repo.Update(ctx, got))
	_, err = repo.GetByUsername(ctx, "door")
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	byID, err := repo.GetByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "door-2", byID.Username)
}
