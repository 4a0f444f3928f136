package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newBoltRepo(t *testing.T) *BoltGuestRepository {
	t.Helper()
	return newBoltRepoIn(t, venuetime.DefaultZone, 5*time.Second)
}

func newBoltRepoIn(t *testing.T, zone string, lockTimeout time.Duration) *BoltGuestRepository {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "guests.db"), 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewBoltGuestRepository(db, venuetime.MustLoad(zone), lockTimeout)
	require.NoError(t, err)
	return repo
}

func TestBoltGuestRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepo(t)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))
	assert.ErrorIs(t, repo.Create(ctx, newTestGuest("Luis Mora", "tok-1")), ErrDuplicateToken)

	got, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, got.ID)
	assert.Equal(t, domain.StateNotArrived, got.State)
	assert.Nil(t, got.ArrivalTime)

	_, err = repo.GetByToken(ctx, "tok-2")
	assert.ErrorIs(t, err, ErrGuestNotFound)
}

func TestBoltGuestRepository_ArrivalKeepsInstant(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepo(t)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	at := time.Date(2025, 9, 15, 19, 30, 5, 123456000, time.UTC)
	updated, err := repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(at, "Door-1"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, updated.ArrivalTime)
	assert.True(t, updated.ArrivalTime.Equal(at))

	stored, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(at))
	assert.Equal(t, "13:30:05", repo.zone.Local(*stored.ArrivalTime).Format("15:04:05"))

	_, err = repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.ResetArrival("reset by admin", at), nil
	})
	require.NoError(t, err)
	stored, err = repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ArrivalTime)
	assert.Equal(t, "reset by admin", stored.CheckedInBy)
}

func TestBoltGuestRepository_ArrivalInRepeatedHour(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepoIn(t, "America/New_York", 5*time.Second)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, guest))

	// 01:30 EST, the second 01:30 of the night clocks fall back.
	at := time.Date(2025, 11, 2, 6, 30, 0, 0, time.UTC)
	_, err := repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(at, "Door-1"), nil
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(at), "stored %s, want %s", stored.ArrivalTime, at)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].ArrivalTime.Equal(at))
}

func TestBoltGuestRepository_ReadsNaiveOnlyRecords(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepo(t)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	rec := repo.toRecord(guest)
	rec.State = string(domain.StateArrived)
	rec.ArrivedAtLocal = "2025-09-15T13:30:05.000000"
	j, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, repo.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketGuestToken)).Put([]byte(guest.Token), guest.ID[:]); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketGuest)).Put(guest.ID[:], j)
	}))

	stored, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(time.Date(2025, 9, 15, 19, 30, 5, 0, time.UTC)))
}

func TestBoltGuestRepository_LockTimeout(t *testing.T) {
	for _, tc := range []struct {
		name        string
		lockTimeout time.Duration
		ctxTimeout  time.Duration
	}{
		{name: "lock timeout", lockTimeout: 100 * time.Millisecond},
		{name: "caller deadline", ctxTimeout: 100 * time.Millisecond},
	} {
		t.Run(tc.name, func(t *testing.T) {
			repo := newBoltRepoIn(t, venuetime.DefaultZone, tc.lockTimeout)
			guest := newTestGuest("Ana Ruiz", "tok-1")
			require.NoError(t, repo.Create(context.Background(), guest))

			held := make(chan struct{})
			release := make(chan struct{})
			writerDone := make(chan error, 1)
			go func() {
				writerDone <- repo.db.Update(func(*bolt.Tx) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			ctx := context.Background()
			if tc.ctxTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tc.ctxTimeout)
				defer cancel()
			}

			start := time.Now()
			_, err := repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
				return g.MarkArrived(time.Now().UTC(), "Door-1"), nil
			})
			require.ErrorIs(t, err, ErrTransaction)
			assert.Less(t, time.Since(start), time.Second)

			close(release)
			require.NoError(t, <-writerDone)

			// The abandoned write must not land once the slot frees up.
			assert.Never(t, func() bool {
				stored, err := repo.GetByID(context.Background(), guest.ID)
				return err == nil && stored.Arrived()
			}, 300*time.Millisecond, 20*time.Millisecond)

			updated, err := repo.LockingUpdate(context.Background(), guest.ID, func(g *domain.Guest) (bool, error) {
				return g.MarkArrived(time.Now().UTC(), "Door-2"), nil
			})
			require.NoError(t, err)
			assert.Equal(t, "Door-2", updated.CheckedInBy)
		})
	}
}

func TestBoltGuestRepository_TokenChangeAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepo(t)

	ana := newTestGuest("Ana Ruiz", "tok-1")
	luis := newTestGuest("luis Mora", "tok-2")
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

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ana Ruiz", list[0].FullName)

	require.NoError(t, repo.Delete(ctx, ana.ID))
	_, err = repo.GetByToken(ctx, "tok-3")
	assert.ErrorIs(t, err, ErrGuestNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, ana.ID), ErrGuestNotFound)
}

func TestBoltGuestRepository_ConcurrentArrivalWritesOnce(t *testing.T) {
	repo := newBoltRepo(t)

	guest := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(context.Background(), guest))

	assertSingleArrival(t, repo, guest.ID, 8)
}

func TestBoltGuestRepository_CountArrivals(t *testing.T) {
	ctx := context.Background()
	repo := newBoltRepo(t)

	total, arrived, err := repo.CountArrivals(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, arrived)

	ana := newTestGuest("Ana Ruiz", "tok-1")
	require.NoError(t, repo.Create(ctx, ana))
	require.NoError(t, repo.Create(ctx, newTestGuest("Luis Mora", "tok-2")))
	_, err = repo.LockingUpdate(ctx, ana.ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(time.Now().UTC(), "Door-1"), nil
	})
	require.NoError(t, err)

	total, arrived, err = repo.CountArrivals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, arrived)
}
