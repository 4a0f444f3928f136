package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"go.opentelemetry.io/otel"
)

var tracer = otel.GetTracerProvider().Tracer("github.com/immxrtalbeast/checkin/internal/service")

var (
	ErrUnknownToken       = errors.New("unknown token")
	ErrTransaction        = errors.New("attendance transaction failed")
	ErrGuestNotFound      = errors.New("guest not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrQRPending comes with a guest that was stored but whose QR image was
	// not. RegenerateQR or QRImage repairs it later.
	ErrQRPending = errors.New("qr image pending")
)

// MaxBatch bounds how many guests one bulk request may name.
const MaxBatch = 500

type AttendanceInteractor interface {
	RecordArrival(ctx context.Context, rawToken string, device string) (*domain.ArrivalResult, error)
	ScanImage(ctx context.Context, img io.Reader, device string) (*domain.ArrivalResult, error)
	MarkArrivedByID(ctx context.Context, guestID uuid.UUID, operator string) (*domain.ArrivalResult, error)
	ResetArrival(ctx context.Context, guestID uuid.UUID, operator string) (*domain.ArrivalResult, error)
	MarkArrivedMany(ctx context.Context, guestIDs []uuid.UUID, operator string) ([]domain.BulkResult, error)
	ResetArrivalMany(ctx context.Context, guestIDs []uuid.UUID, operator string) ([]domain.BulkResult, error)
}

type GuestInteractor interface {
	CreateGuest(ctx context.Context, in domain.GuestInput) (*domain.Guest, error)
	GetGuest(ctx context.Context, id uuid.UUID) (*domain.Guest, error)
	GetGuestByToken(ctx context.Context, rawToken string) (*domain.Guest, error)
	ListGuests(ctx context.Context) ([]*domain.Guest, error)
	UpdateGuest(ctx context.Context, id uuid.UUID, in domain.GuestInput) (*domain.Guest, error)
	SetPhoto(ctx context.Context, id uuid.UUID, photo io.Reader) (*domain.Guest, error)
	DeleteGuest(ctx context.Context, id uuid.UUID) error
	RegenerateQR(ctx context.Context, id uuid.UUID) (*domain.Guest, error)
	RegenerateQRMany(ctx context.Context, ids []uuid.UUID) ([]domain.BulkResult, error)
	RegenerateToken(ctx context.Context, id uuid.UUID) (*domain.Guest, error)
	QRImage(ctx context.Context, id uuid.UUID) ([]byte, error)
}

type ReportInteractor interface {
	Stats(ctx context.Context, recent int) (*domain.AttendanceStats, error)
	NotArrived(ctx context.Context) ([]*domain.Guest, error)
	ExportCSV(ctx context.Context, w io.Writer) error
}

type OperatorInteractor interface {
	Authenticate(ctx context.Context, username, password string) (*domain.Operator, error)
}

type LiveFeed interface {
	Subscribe(operatorID uuid.UUID) *domain.Watcher
	Unsubscribe(w *domain.Watcher)
}

// QREncoder renders a token into PNG bytes.
type QREncoder interface {
	Encode(token string) ([]byte, error)
}

// ArtifactStore persists QR images and photos and hands back refs.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

func checkBatch(ids []uuid.UUID) error {
	switch {
	case len(ids) == 0:
		return fmt.Errorf("%w: no guests selected", ErrInvalidInput)
	case len(ids) > MaxBatch:
		return fmt.Errorf("%w: at most %d guests per request", ErrInvalidInput, MaxBatch)
	}
	return nil
}

// storeErr maps repository failures onto service errors.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrGuestNotFound):
		return ErrGuestNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	case errors.Is(err, repository.ErrTransaction):
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	}
	return err
}
