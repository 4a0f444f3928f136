package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/checkin/internal/qr"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/immxrtalbeast/checkin/internal/storage"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	"github.com/stretchr/testify/require"
)

// 13:00 in Mexico City.
var eventStart = time.Date(2025, 9, 15, 19, 0, 0, 0, time.UTC)

// testClock moves forward by step on every reading.
type testClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *testClock) SetStep(d time.Duration) {
	c.mu.Lock()
	c.step = d
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock      *testClock
	zone       *venuetime.Zone
	repo       *repository.InMemoryGuestRepository
	store      *storage.FileStore
	feed       *Feed
	guests     *GuestService
	attendance *AttendanceService
	reports    *ReportService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: eventStart}
	zone := venuetime.MustLoad(venuetime.DefaultZone).WithClock(clock.Now)
	repo := repository.NewInMemoryGuestRepository(2 * time.Second)
	store, err := storage.NewFileStore(t.TempDir(), "/media")
	require.NoError(t, err)

	log := discardLogger()
	feed := NewFeed(nil, log)
	encoder := qr.NewEncoder(qr.Options{Size: 300}, log)

	return &fixture{
		clock:      clock,
		zone:       zone,
		repo:       repo,
		store:      store,
		feed:       feed,
		guests:     NewGuestService(repo, encoder, store, zone, nil, log),
		attendance: NewAttendanceService(repo, zone, feed, nil, log),
		reports:    NewReportService(repo, zone, log),
	}
}

// failingEncoder always fails the way qr.Encoder does for an unusable token.
type failingEncoder struct{}

func (failingEncoder) Encode(string) ([]byte, error) {
	return nil, qr.ErrEncoding
}

// saveFailingStore refuses every write and passes everything else through.
type saveFailingStore struct {
	ArtifactStore
}

func (saveFailingStore) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("no space left on device")
}
