package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newPostgresRepo connects to CHECKIN_TEST_DATABASE_URL and skips the test
// when it is not set.
func newPostgresRepo(t *testing.T) *PostgresGuestRepository {
	t.Helper()
	dsn := os.Getenv("CHECKIN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHECKIN_TEST_DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Guest{}, &model.Operator{}))
	require.NoError(t, db.Exec("DELETE FROM guests").Error)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return NewPostgresGuestRepository(db, 2*time.Second)
}

func TestPostgresGuestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newPostgresRepo(t)

	guest := newTestGuest("Ana Ruiz", "pg-tok-1")
	require.NoError(t, repo.Create(ctx, guest))
	assert.ErrorIs(t, repo.Create(ctx, newTestGuest("Luis Mora", "pg-tok-1")), ErrDuplicateToken)

	at := time.Now().UTC().Truncate(time.Microsecond)
	_, err := repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.MarkArrived(at, "Door-1"), nil
	})
	require.NoError(t, err)

	stored, err := repo.GetByToken(ctx, "pg-tok-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ArrivalTime)
	assert.True(t, stored.ArrivalTime.Equal(at))

	_, err = repo.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		return g.ResetArrival("reset by admin", at), nil
	})
	require.NoError(t, err)
	stored, err = repo.GetByID(ctx, guest.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ArrivalTime)
	assert.Equal(t, domain.StateNotArrived, stored.State)

	require.NoError(t, repo.Delete(ctx, guest.ID))
	assert.ErrorIs(t, repo.Delete(ctx, guest.ID), ErrGuestNotFound)
}

func TestPostgresGuestRepository_ConcurrentArrivalWritesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newPostgresRepo(t)

	guest := newTestGuest("Ana Ruiz", "pg-tok-2")
	require.NoError(t, repo.Create(ctx, guest))

	assertSingleArrival(t, repo, guest.ID, 8)

	total, arrived, err := repo.CountArrivals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, arrived)
}
