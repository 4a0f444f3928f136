package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/metrics"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/immxrtalbeast/checkin/internal/storage"
	"github.com/immxrtalbeast/checkin/internal/token"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	"golang.org/x/image/draw"
)

const (
	maxTokenAttempts = 5
	photoMaxSide     = 300
	maxPhotoBytes    = 10 << 20
)

type GuestService struct {
	guests   repository.GuestRepository
	encoder  QREncoder
	store    ArtifactStore
	zone     *venuetime.Zone
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *slog.Logger
	newToken func() string
}

func NewGuestService(
	guests repository.GuestRepository,
	encoder QREncoder,
	store ArtifactStore,
	zone *venuetime.Zone,
	m *metrics.Metrics,
	log *slog.Logger,
) *GuestService {
	if log == nil {
		log = slog.Default()
	}
	return &GuestService{
		guests:   guests,
		encoder:  encoder,
		store:    store,
		zone:     zone,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		log:      log,
		newToken: token.Generate,
	}
}

// CreateGuest registers a guest and renders its QR image. When the image
// cannot be rendered or stored the guest is still returned, stays QR pending,
// and the error wraps ErrQRPending along with the cause.
func (s *GuestService) CreateGuest(ctx context.Context, in domain.GuestInput) (*domain.Guest, error) {
	const op = "service.guest.create"
	ctx, span := tracer.Start(ctx, "GuestService.CreateGuest")
	defer span.End()

	log := s.log.With(slog.String("op", op))

	in, err := s.checkInput(in)
	if err != nil {
		log.Info("invalid guest input", sl.Err(err))
		return nil, err
	}

	var guest *domain.Guest
	for attempt := 1; ; attempt++ {
		guest = domain.NewGuest(in, s.newToken(), s.zone.Now().UTC())
		err := s.guests.Create(ctx, guest)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateToken) && attempt < maxTokenAttempts {
			log.Warn("token collision, retrying", "attempt", attempt)
			continue
		}
		log.Error("failed to store guest", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, transactionErr(err))
	}
	s.metrics.GuestCreated()
	log.Info("guest created", "guest_id", guest.ID.String())

	updated, err := s.renderQR(ctx, guest)
	if err != nil {
		log.Warn("guest left with pending qr", "guest_id", guest.ID.String(), sl.Err(err))
		return guest, fmt.Errorf("%s: %w: %w", op, ErrQRPending, err)
	}
	return updated, nil
}

func (s *GuestService) GetGuest(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	guest, err := s.guests.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return guest, nil
}

// GetGuestByToken backs the public QR page. Anything that is not a live token
// is ErrUnknownToken.
func (s *GuestService) GetGuestByToken(ctx context.Context, rawToken string) (*domain.Guest, error) {
	tok, ok := token.Normalize(rawToken)
	if !ok {
		return nil, ErrUnknownToken
	}
	guest, err := s.guests.GetByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, repository.ErrGuestNotFound) {
			return nil, ErrUnknownToken
		}
		return nil, storeErr(err)
	}
	return guest, nil
}

func (s *GuestService) ListGuests(ctx context.Context) ([]*domain.Guest, error) {
	guests, err := s.guests.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return guests, nil
}

// UpdateGuest edits the administrator fields. The token is never touched and
// an empty PhotoRef keeps the current photo.
func (s *GuestService) UpdateGuest(ctx context.Context, id uuid.UUID, in domain.GuestInput) (*domain.Guest, error) {
	const op = "service.guest.update"
	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", id.String()),
	)

	in, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}

	guest, err := s.guests.LockingUpdate(ctx, id, func(g *domain.Guest) (bool, error) {
		g.FullName = in.FullName
		g.Role = in.Role
		if in.PhotoRef != "" {
			g.PhotoRef = in.PhotoRef
		}
		g.UpdatedAt = s.zone.Now().UTC()
		return true, nil
	})
	if err != nil {
		log.Error("update failed", sl.Err(err))
		return nil, storeErr(err)
	}
	log.Info("guest updated")
	return guest, nil
}

// SetPhoto stores photo as a PNG thumbnail no larger than 300x300 and points
// the guest at it.
func (s *GuestService) SetPhoto(ctx context.Context, id uuid.UUID, photo io.Reader) (*domain.Guest, error) {
	const op = "service.guest.set_photo"
	ctx, span := tracer.Start(ctx, "GuestService.SetPhoto")
	defer span.End()

	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", id.String()),
	)

	if _, err := s.guests.GetByID(ctx, id); err != nil {
		return nil, storeErr(err)
	}

	src, _, err := image.Decode(io.LimitReader(photo, maxPhotoBytes))
	if err != nil {
		log.Info("photo is not an image", sl.Err(err))
		return nil, fmt.Errorf("%w: photo: %v", ErrInvalidInput, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumbnail(src, photoMaxSide)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ref, err := s.store.Save(ctx, storage.PhotoName(id.String()), buf.Bytes())
	if err != nil {
		log.Error("failed to save photo", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	guest, err := s.guests.LockingUpdate(ctx, id, func(g *domain.Guest) (bool, error) {
		g.PhotoRef = ref
		g.UpdatedAt = s.zone.Now().UTC()
		return true, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	log.Info("photo stored", "ref", ref)
	return guest, nil
}

// DeleteGuest removes the guest and its artifacts.
func (s *GuestService) DeleteGuest(ctx context.Context, id uuid.UUID) error {
	const op = "service.guest.delete"
	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", id.String()),
	)

	guest, err := s.guests.GetByID(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if err := s.guests.Delete(ctx, id); err != nil {
		log.Error("delete failed", sl.Err(err))
		return storeErr(err)
	}

	for _, ref := range []string{guest.QRImageRef, guest.PhotoRef} {
		if err := s.store.Delete(ctx, ref); err != nil {
			log.Warn("artifact not removed", "ref", ref, sl.Err(err))
		}
	}
	log.Info("guest deleted")
	return nil
}

// RegenerateQR renders the image again for the current token.
func (s *GuestService) RegenerateQR(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	guest, err := s.guests.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.renderQR(ctx, guest)
}

// RegenerateQRMany renders the image again for each guest in order. A guest
// that fails keeps its error in its result.
func (s *GuestService) RegenerateQRMany(ctx context.Context, ids []uuid.UUID) ([]domain.BulkResult, error) {
	const op = "service.guest.regenerate_qr_many"
	if err := checkBatch(ids); err != nil {
		return nil, err
	}

	results := make([]domain.BulkResult, 0, len(ids))
	failed := 0
	for _, id := range ids {
		guest, err := s.RegenerateQR(ctx, id)
		res := domain.BulkResult{GuestID: id, Err: err}
		if err == nil {
			res.Outcome = domain.OutcomeSuccess
			res.Guest = guest
		} else {
			failed++
		}
		results = append(results, res)
	}
	s.log.Info("qr images regenerated",
		slog.String("op", op),
		"requested", len(ids),
		"failed", failed,
	)
	return results, nil
}

// RegenerateToken issues a new token. The old token stops resolving as soon
// as the update commits; its QR image is removed and a new one rendered.
func (s *GuestService) RegenerateToken(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	const op = "service.guest.regenerate_token"
	ctx, span := tracer.Start(ctx, "GuestService.RegenerateToken")
	defer span.End()

	log := s.log.With(
		slog.String("op", op),
		slog.String("guest_id", id.String()),
	)

	var (
		guest  *domain.Guest
		oldRef string
	)
	for attempt := 1; ; attempt++ {
		next := s.newToken()
		var err error
		guest, err = s.guests.LockingUpdate(ctx, id, func(g *domain.Guest) (bool, error) {
			oldRef = g.QRImageRef
			g.Token = next
			g.QRImageRef = ""
			g.UpdatedAt = s.zone.Now().UTC()
			return true, nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateToken) && attempt < maxTokenAttempts {
			log.Warn("token collision, retrying", "attempt", attempt)
			continue
		}
		log.Error("token regeneration failed", sl.Err(err))
		return nil, storeErr(err)
	}
	log.Info("token regenerated")

	if err := s.store.Delete(ctx, oldRef); err != nil {
		log.Warn("old qr not removed", "ref", oldRef, sl.Err(err))
	}

	updated, err := s.renderQR(ctx, guest)
	if err != nil {
		log.Warn("guest left with pending qr", sl.Err(err))
		return guest, fmt.Errorf("%s: %w: %w", op, ErrQRPending, err)
	}
	return updated, nil
}

// QRImage returns the PNG for the guest, rendering it first when pending or
// when the stored file is gone.
func (s *GuestService) QRImage(ctx context.Context, id uuid.UUID) ([]byte, error) {
	const op = "service.guest.qr_image"

	guest, err := s.guests.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}

	if !guest.QRPending() {
		rc, err := s.store.Open(ctx, guest.QRImageRef)
		if err == nil {
			defer rc.Close()
			return io.ReadAll(rc)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.log.Warn("qr image missing, rendering again", "guest_id", id.String())
	}

	data, err := s.encoder.Encode(guest.Token)
	if err != nil {
		s.metrics.QRFailure()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.persistQR(ctx, guest, data); err != nil {
		s.log.Warn("qr image not persisted", "guest_id", id.String(), sl.Err(err))
	}
	return data, nil
}

func (s *GuestService) renderQR(ctx context.Context, guest *domain.Guest) (*domain.Guest, error) {
	const op = "service.guest.render_qr"
	ctx, span := tracer.Start(ctx, "GuestService.renderQR")
	defer span.End()

	data, err := s.encoder.Encode(guest.Token)
	if err != nil {
		s.metrics.QRFailure()
		span.RecordError(err)
		return guest, fmt.Errorf("%s: %w", op, err)
	}
	return s.persistQR(ctx, guest, data)
}

// persistQR saves data and records its ref, unless the token changed in the
// meantime.
func (s *GuestService) persistQR(ctx context.Context, guest *domain.Guest, data []byte) (*domain.Guest, error) {
	const op = "service.guest.persist_qr"

	ref, err := s.store.Save(ctx, storage.QRName(guest.Token), data)
	if err != nil {
		return guest, fmt.Errorf("%s: %w", op, err)
	}

	stale := false
	updated, err := s.guests.LockingUpdate(ctx, guest.ID, func(g *domain.Guest) (bool, error) {
		if g.Token != guest.Token {
			stale = true
			return false, nil
		}
		if g.QRImageRef == ref {
			return false, nil
		}
		g.QRImageRef = ref
		g.UpdatedAt = s.zone.Now().UTC()
		return true, nil
	})
	if err != nil {
		return guest, fmt.Errorf("%s: %w", op, storeErr(err))
	}
	if stale {
		if err := s.store.Delete(ctx, ref); err != nil {
			s.log.Warn("stale qr not removed", "ref", ref, sl.Err(err))
		}
	}
	return updated, nil
}

func (s *GuestService) checkInput(in domain.GuestInput) (domain.GuestInput, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Role = strings.TrimSpace(in.Role)
	in.PhotoRef = strings.TrimSpace(in.PhotoRef)

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return in, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
		}
		return in, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return in, nil
}

// thumbnail scales src down to fit in a side x side box, keeping its aspect.
func thumbnail(src image.Image, side int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= side && h <= side {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}

	if w >= h {
		h = h * side / w
		w = side
	} else {
		w = w * side / h
		h = side
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
