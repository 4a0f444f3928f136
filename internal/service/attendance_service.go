package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/metrics"
	"github.com/immxrtalbeast/checkin/internal/qr"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/immxrtalbeast/checkin/internal/token"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	"go.opentelemetry.io/otel/attribute"
)

// AttendanceService owns the NOT_ARRIVED -> ARRIVED transition. Every
// transition runs inside GuestRepository.LockingUpdate, so two scans of the
// same token are serialized and exactly one of them succeeds.
type AttendanceService struct {
	guests  repository.GuestRepository
	zone    *venuetime.Zone
	feed    *Feed
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewAttendanceService(
	guests repository.GuestRepository,
	zone *venuetime.Zone,
	feed *Feed,
	m *metrics.Metrics,
	log *slog.Logger,
) *AttendanceService {
	if log == nil {
		log = slog.Default()
	}
	return &AttendanceService{
		guests:  guests,
		zone:    zone,
		feed:    feed,
		metrics: m,
		log:     log,
	}
}

func (s *AttendanceService) RecordArrival(ctx context.Context, rawToken string, device string) (*domain.ArrivalResult, error) {
	const op = "service.attendance.record"
	ctx, span := tracer.Start(ctx, "AttendanceService.RecordArrival")
	defer span.End()

	log := s.log.With(slog.String("op", op))

	tok, ok := token.Normalize(rawToken)
	if !ok {
		s.metrics.Scan("unknown_token")
		log.Info("rejected malformed token", "length", len(rawToken))
		return nil, ErrUnknownToken
	}
	device = strings.TrimSpace(device)
	if device == "" {
		device = domain.UnknownDevice
	}

	guest, err := s.guests.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrGuestNotFound) {
			s.metrics.Scan("unknown_token")
			log.Info("token not registered")
			return nil, ErrUnknownToken
		}
		s.metrics.Scan("error")
		log.Error("lookup failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, transactionErr(err))
	}
	span.SetAttributes(attribute.String("guest.id", guest.ID.String()))

	outcome, updated, err := s.arrive(ctx, guest.ID, device, func(g *domain.Guest) error {
		if g.Token != tok {
			return ErrUnknownToken
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownToken) || errors.Is(err, repository.ErrGuestNotFound) {
			s.metrics.Scan("unknown_token")
			log.Info("token changed before lock", "guest_id", guest.ID.String())
			return nil, ErrUnknownToken
		}
		s.metrics.Scan("error")
		log.Error("arrival transaction failed",
			"guest_id", guest.ID.String(),
			sl.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, transactionErr(err))
	}

	s.metrics.Scan(string(outcome))
	log.Info("scan recorded",
		"guest_id", updated.ID.String(),
		"outcome", string(outcome),
		"device", device,
	)
	if outcome == domain.OutcomeSuccess {
		s.publish(ctx, domain.FeedEventArrival, updated)
	}
	return &domain.ArrivalResult{Outcome: outcome, Guest: updated}, nil
}

// ScanImage decodes a photographed QR code and records the arrival it names.
func (s *AttendanceService) ScanImage(ctx context.Context, img io.Reader, device string) (*domain.ArrivalResult, error) {
	const op = "service.attendance.scan_image"

	raw, err := qr.DecodeReader(img)
	if err != nil {
		s.metrics.Scan("unreadable_image")
		s.log.With(slog.String("op", op)).Info("no code in image", sl.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.RecordArrival(ctx, raw, device)
}

// MarkArrivedByID checks a guest in from the administration screens, without
// a scan. operator is recorded where a scan records its device.
func (s *AttendanceService) MarkArrivedByID(ctx context.Context, guestID uuid.UUID, operator string) (*domain.ArrivalResult, error) {
	const op = "service.attendance.mark_arrived"
	ctx, span := tracer.Start(ctx, "AttendanceService.MarkArrivedByID")
	defer span.End()
	span.SetAttributes(attribute.String("guest.id", guestID.String()))

	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", guestID.String()),
	)

	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = domain.UnknownDevice
	}

	outcome, updated, err := s.arrive(ctx, guestID, operator, nil)
	if err != nil {
		if errors.Is(err, repository.ErrGuestNotFound) {
			return nil, ErrGuestNotFound
		}
		s.metrics.ManualArrival("error")
		log.Error("manual arrival failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, transactionErr(err))
	}

	s.metrics.ManualArrival(string(outcome))
	log.Info("arrival marked", "outcome", string(outcome), "operator", operator)
	if outcome == domain.OutcomeSuccess {
		s.publish(ctx, domain.FeedEventArrival, updated)
	}
	return &domain.ArrivalResult{Outcome: outcome, Guest: updated}, nil
}

// MarkArrivedMany runs MarkArrivedByID for each guest in order.
func (s *AttendanceService) MarkArrivedMany(ctx context.Context, guestIDs []uuid.UUID, operator string) ([]domain.BulkResult, error) {
	if err := checkBatch(guestIDs); err != nil {
		return nil, err
	}
	results := make([]domain.BulkResult, 0, len(guestIDs))
	for _, id := range guestIDs {
		res, err := s.MarkArrivedByID(ctx, id, operator)
		results = append(results, bulkResult(id, res, err))
	}
	return results, nil
}

// ResetArrivalMany runs ResetArrival for each guest in order.
func (s *AttendanceService) ResetArrivalMany(ctx context.Context, guestIDs []uuid.UUID, operator string) ([]domain.BulkResult, error) {
	if err := checkBatch(guestIDs); err != nil {
		return nil, err
	}
	results := make([]domain.BulkResult, 0, len(guestIDs))
	for _, id := range guestIDs {
		res, err := s.ResetArrival(ctx, id, operator)
		results = append(results, bulkResult(id, res, err))
	}
	return results, nil
}

func (s *AttendanceService) ResetArrival(ctx context.Context, guestID uuid.UUID, operator string) (*domain.ArrivalResult, error) {
	const op = "service.attendance.reset"
	ctx, span := tracer.Start(ctx, "AttendanceService.ResetArrival")
	defer span.End()
	span.SetAttributes(attribute.String("guest.id", guestID.String()))

	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", guestID.String()),
	)

	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = domain.UnknownDevice
	}

	var outcome domain.Outcome
	updated, err := s.guests.LockingUpdate(ctx, guestID, func(g *domain.Guest) (bool, error) {
		if !g.Arrived() {
			outcome = domain.OutcomeNotArrived
			return false, nil
		}
		now := s.zone.Now()
		g.ResetArrival(fmt.Sprintf("reset by %s at %s", operator, s.zone.Format(&now)), now)
		outcome = domain.OutcomeSuccess
		return true, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrGuestNotFound) {
			return nil, ErrGuestNotFound
		}
		s.metrics.Reset("error")
		log.Error("reset transaction failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, transactionErr(err))
	}

	s.metrics.Reset(string(outcome))
	log.Info("attendance reset", "outcome", string(outcome), "operator", operator)
	if outcome == domain.OutcomeSuccess {
		s.publish(ctx, domain.FeedEventReset, updated)
	}
	return &domain.ArrivalResult{Outcome: outcome, Guest: updated}, nil
}

// arrive runs the NOT_ARRIVED -> ARRIVED transition under the guest's lock.
// guard sees the locked row first and may refuse it.
func (s *AttendanceService) arrive(
	ctx context.Context,
	id uuid.UUID,
	device string,
	guard func(*domain.Guest) error,
) (domain.Outcome, *domain.Guest, error) {
	var outcome domain.Outcome
	updated, err := s.guests.LockingUpdate(ctx, id, func(g *domain.Guest) (bool, error) {
		if guard != nil {
			if err := guard(g); err != nil {
				return false, err
			}
		}
		if g.Arrived() {
			outcome = domain.OutcomeAlreadyArrived
			return false, nil
		}
		g.MarkArrived(s.zone.Now(), device)
		outcome = domain.OutcomeSuccess
		return true, nil
	})
	return outcome, updated, err
}

func bulkResult(id uuid.UUID, res *domain.ArrivalResult, err error) domain.BulkResult {
	out := domain.BulkResult{GuestID: id, Err: err}
	if res != nil {
		out.Outcome = res.Outcome
		out.Guest = res.Guest
	}
	return out
}

func (s *AttendanceService) publish(ctx context.Context, typ domain.FeedEventType, g *domain.Guest) {
	if s.feed.Len() == 0 {
		return
	}

	event := domain.FeedEvent{
		Type:        typ,
		GuestID:     g.ID.String(),
		Name:        g.FullName,
		Role:        g.Role,
		Photo:       g.PhotoRef,
		CheckedInBy: g.CheckedInBy,
	}
	if g.ArrivalTime != nil {
		event.ArrivalTime = s.zone.Format(g.ArrivalTime)
	}

	total, arrived, err := s.guests.CountArrivals(ctx)
	if err != nil {
		s.log.Warn("feed counts unavailable", sl.Err(err))
	}
	event.Total, event.Arrived = total, arrived
	s.feed.Publish(event)
}

// transactionErr tags err as ErrTransaction unless it already is one.
func transactionErr(err error) error {
	if errors.Is(err, ErrTransaction) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}
