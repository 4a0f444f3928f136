package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	bucketGuest      = "guest_store"
	bucketGuestToken = "guest_token_index"
)

// boltGuest is the on-disk record. ArrivedAt is the instant; ArrivedAtLocal
// repeats it as naive venue wall clock for people reading the file. The naive
// form is ambiguous in the repeated hour of a DST fall-back, so it is only
// read for records written without ArrivedAt.
type boltGuest struct {
	ID             uuid.UUID `json:"id"`
	FullName       string    `json:"full_name"`
	Role           string    `json:"role"`
	PhotoRef       string    `json:"photo_ref,omitempty"`
	Token          string    `json:"token"`
	QRImageRef     string    `json:"qr_image_ref,omitempty"`
	State          string    `json:"state"`
	ArrivedAt      *time.Time `json:"arrived_at,omitempty"`
	ArrivedAtLocal string     `json:"arrived_at_local,omitempty"`
	CheckedInBy    string     `json:"checked_in_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Commit claim states of one LockingUpdate.
const (
	claimFree int32 = iota
	claimCommitted
	claimAbandoned
)

var errUpdateAbandoned = errors.New("caller stopped waiting for the write lock")

type boltUpdateResult struct {
	guest     *domain.Guest
	mutateErr error
	err       error
}

// BoltGuestRepository stores guests in a single bbolt file. bbolt admits one
// read-write transaction at a time, so LockingUpdate is serialized across all
// guests, not only per guest.
type BoltGuestRepository struct {
	db          *bolt.DB
	zone        *venuetime.Zone
	lockTimeout time.Duration
}

// NewBoltGuestRepository creates the buckets if needed. A positive lockTimeout
// bounds how long LockingUpdate waits for the writer slot.
func NewBoltGuestRepository(db *bolt.DB, zone *venuetime.Zone, lockTimeout time.Duration) (*BoltGuestRepository, error) {
	repo := &BoltGuestRepository{db: db, zone: zone, lockTimeout: lockTimeout}
	return repo, db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketGuest)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketGuestToken))
		return err
	})
}

func (r *BoltGuestRepository) Create(ctx context.Context, guest *domain.Guest) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "BoltGuestRepository.Create")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if guest == nil {
		return errors.New("guest is nil")
	}

	j, err := json.Marshal(r.toRecord(guest))
	if err != nil {
		return err
	}

	span.AddEvent("Update bucket")
	err = r.db.Update(func(tx *bolt.Tx) error {
		guests := tx.Bucket([]byte(bucketGuest))
		tokens := tx.Bucket([]byte(bucketGuestToken))
		if tokens.Get([]byte(guest.Token)) != nil {
			return ErrDuplicateToken
		}
		if guests.Get(guest.ID[:]) != nil {
			return fmt.Errorf("guest %s already exists", guest.ID)
		}
		if err := guests.Put(guest.ID[:], j); err != nil {
			return err
		}
		return tokens.Put([]byte(guest.Token), guest.ID[:])
	})
	if err != nil && !errors.Is(err, ErrDuplicateToken) {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return err
}

func (r *BoltGuestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guest *domain.Guest
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		guest, err = r.load(tx, id)
		return err
	})
	return guest, err
}

func (r *BoltGuestRepository) GetByToken(ctx context.Context, token string) (*domain.Guest, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "BoltGuestRepository.GetByToken")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guest *domain.Guest
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketGuestToken)).Get([]byte(token))
		if raw == nil {
			return ErrGuestNotFound
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return err
		}
		guest, err = r.load(tx, id)
		return err
	})
	return guest, err
}

// LockingUpdate waits for bbolt's writer slot no longer than lockTimeout and
// never past ctx. Once the caller has given up the write is rolled back, so a
// reported ErrTransaction always means nothing was stored.
func (r *BoltGuestRepository) LockingUpdate(ctx context.Context, id uuid.UUID, mutate Mutator) (*domain.Guest, error) {
	ctx, span := tracer.Start(ctx, "BoltGuestRepository.LockingUpdate")
	defer span.End()
	span.SetAttributes(attribute.String("guest.id", id.String()))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	var claim atomic.Int32
	done := make(chan boltUpdateResult, 1)
	go func() {
		done <- r.update(id, mutate, &claim)
	}()

	var res boltUpdateResult
	select {
	case res = <-done:
	case <-ctx.Done():
		if claim.CompareAndSwap(claimFree, claimAbandoned) {
			span.RecordError(ctx.Err())
			return nil, fmt.Errorf("%w: guest %s is locked: %v", ErrTransaction, id, ctx.Err())
		}
		// The write claimed its commit first; report how it ended.
		res = <-done
	}

	if res.mutateErr != nil {
		return nil, res.mutateErr
	}
	if res.err != nil {
		if errors.Is(res.err, ErrGuestNotFound) || errors.Is(res.err, ErrDuplicateToken) {
			return nil, res.err
		}
		span.RecordError(res.err)
		return nil, fmt.Errorf("%w: %v", ErrTransaction, res.err)
	}
	return r.roundTrip(res.guest), nil
}

// update runs mutate in a bbolt write transaction. It commits only if it wins
// claim; otherwise the transaction rolls back.
func (r *BoltGuestRepository) update(id uuid.UUID, mutate Mutator, claim *atomic.Int32) boltUpdateResult {
	var res boltUpdateResult
	res.err = r.db.Update(func(tx *bolt.Tx) error {
		if claim.Load() != claimFree {
			return errUpdateAbandoned
		}

		current, err := r.load(tx, id)
		if err != nil {
			return err
		}

		work := current.Clone()
		changed, err := mutate(work)
		if err != nil {
			res.mutateErr = err
			return err
		}
		if !changed {
			res.guest = current
			return nil
		}
		work.ID = id

		tokens := tx.Bucket([]byte(bucketGuestToken))
		if work.Token != current.Token {
			if owner := tokens.Get([]byte(work.Token)); owner != nil {
				return ErrDuplicateToken
			}
			if err := tokens.Delete([]byte(current.Token)); err != nil {
				return err
			}
			if err := tokens.Put([]byte(work.Token), id[:]); err != nil {
				return err
			}
		}

		j, err := json.Marshal(r.toRecord(work))
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketGuest)).Put(id[:], j); err != nil {
			return err
		}
		if !claim.CompareAndSwap(claimFree, claimCommitted) {
			return errUpdateAbandoned
		}
		res.guest = work
		return nil
	})
	return res
}

func (r *BoltGuestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		guest, err := r.load(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketGuestToken)).Delete([]byte(guest.Token)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketGuest)).Delete(id[:])
	})
}

func (r *BoltGuestRepository) List(ctx context.Context) ([]*domain.Guest, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "BoltGuestRepository.List")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guests []*domain.Guest
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGuest)).ForEach(func(_, v []byte) error {
			var rec boltGuest
			if err := json.Unmarshal(v, &rec); err != nil {
				span.RecordError(err)
				return err
			}
			guest, err := r.fromRecord(&rec)
			if err != nil {
				return err
			}
			guests = append(guests, guest)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortGuests(guests)
	return guests, nil
}

// CountArrivals decodes only the state of each record.
func (r *BoltGuestRepository) CountArrivals(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var total, arrived int
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGuest)).ForEach(func(_, v []byte) error {
			var rec struct {
				State string `json:"state"`
			}
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			total++
			if rec.State == string(domain.StateArrived) {
				arrived++
			}
			return nil
		})
	})
	if err != nil {
		return 0, 0, err
	}
	return total, arrived, nil
}

func (r *BoltGuestRepository) load(tx *bolt.Tx, id uuid.UUID) (*domain.Guest, error) {
	raw := tx.Bucket([]byte(bucketGuest)).Get(id[:])
	if raw == nil {
		return nil, ErrGuestNotFound
	}
	var rec boltGuest
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return r.fromRecord(&rec)
}

func (r *BoltGuestRepository) roundTrip(guest *domain.Guest) *domain.Guest {
	out, err := r.fromRecord(r.toRecord(guest))
	if err != nil {
		return guest
	}
	return out
}

func (r *BoltGuestRepository) toRecord(guest *domain.Guest) *boltGuest {
	rec := &boltGuest{
		ID:          guest.ID,
		FullName:    guest.FullName,
		Role:        guest.Role,
		PhotoRef:    guest.PhotoRef,
		Token:       guest.Token,
		QRImageRef:  guest.QRImageRef,
		State:       string(guest.State),
		CheckedInBy: guest.CheckedInBy,
		CreatedAt:   guest.CreatedAt.UTC(),
		UpdatedAt:   guest.UpdatedAt.UTC(),
	}
	if rec.State == "" {
		rec.State = string(domain.StateNotArrived)
	}
	if guest.ArrivalTime != nil {
		at := guest.ArrivalTime.UTC()
		rec.ArrivedAt = &at
		rec.ArrivedAtLocal = r.zone.FormatNaive(at)
	}
	return rec
}

func (r *BoltGuestRepository) fromRecord(rec *boltGuest) (*domain.Guest, error) {
	guest := &domain.Guest{
		ID:          rec.ID,
		FullName:    rec.FullName,
		Role:        rec.Role,
		PhotoRef:    rec.PhotoRef,
		Token:       rec.Token,
		QRImageRef:  rec.QRImageRef,
		State:       domain.AttendanceState(rec.State),
		CheckedInBy: rec.CheckedInBy,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	switch {
	case rec.ArrivedAt != nil:
		at := rec.ArrivedAt.UTC()
		guest.ArrivalTime = &at
	case rec.ArrivedAtLocal != "":
		t, err := r.zone.ParseNaive(rec.ArrivedAtLocal)
		if err != nil {
			return nil, fmt.Errorf("guest %s: arrival time: %w", rec.ID, err)
		}
		guest.ArrivalTime = &t
	}
	return guest, nil
}
