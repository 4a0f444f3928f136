package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository/model"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

type PostgresGuestRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewPostgresGuestRepository returns a gorm-backed store. LockingUpdate holds
// a row lock (SELECT ... FOR UPDATE) for the duration of the mutator and
// fails with ErrTransaction when the lock is not granted within lockTimeout.
func NewPostgresGuestRepository(db *gorm.DB, lockTimeout time.Duration) *PostgresGuestRepository {
	return &PostgresGuestRepository{db: db, lockTimeout: lockTimeout}
}

func (r *PostgresGuestRepository) Create(ctx context.Context, guest *domain.Guest) error {
	ctx, span := tracer.Start(ctx, "PostgresGuestRepository.Create")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if guest == nil {
		return errors.New("guest is nil")
	}

	if err := r.db.WithContext(ctx).Create(toModelGuest(guest)).Error; err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return ErrDuplicateToken
		}
		return fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return nil
}

func (r *PostgresGuestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guest model.Guest
	err := r.db.WithContext(ctx).First(&guest, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuestNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	return toDomainGuest(&guest), nil
}

func (r *PostgresGuestRepository) GetByToken(ctx context.Context, token string) (*domain.Guest, error) {
	ctx, span := tracer.Start(ctx, "PostgresGuestRepository.GetByToken")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guest model.Guest
	err := r.db.WithContext(ctx).First(&guest, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuestNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	return toDomainGuest(&guest), nil
}

func (r *PostgresGuestRepository) LockingUpdate(ctx context.Context, id uuid.UUID, mutate Mutator) (*domain.Guest, error) {
	ctx, span := tracer.Start(ctx, "PostgresGuestRepository.LockingUpdate")
	defer span.End()
	span.SetAttributes(attribute.String("guest.id", id.String()))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	var (
		result    *domain.Guest
		mutateErr error
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		var row model.Guest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", id).Error; err != nil {
			return err
		}

		current := toDomainGuest(&row)
		work := current.Clone()
		changed, err := mutate(work)
		if err != nil {
			mutateErr = err
			return err
		}
		if !changed {
			result = current
			return nil
		}

		updated := toModelGuest(work)
		updates := map[string]any{
			"full_name":     updated.FullName,
			"role":          updated.Role,
			"photo_ref":     updated.PhotoRef,
			"token":         updated.Token,
			"qr_image_ref":  updated.QRImageRef,
			"state":         updated.State,
			"checked_in_by": updated.CheckedInBy,
			"updated_at":    updated.UpdatedAt,
		}
		if updated.ArrivedAt == nil {
			updates["arrived_at"] = gorm.Expr("NULL")
		} else {
			updates["arrived_at"] = updated.ArrivedAt
		}

		res := tx.Model(&model.Guest{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		result = work
		return nil
	})
	if mutateErr != nil {
		return nil, mutateErr
	}
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrGuestNotFound
		case isUniqueViolation(err):
			return nil, ErrDuplicateToken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "locking update failed")
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	return result, nil
}

func (r *PostgresGuestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Delete(&model.Guest{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrTransaction, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrGuestNotFound
	}
	return nil
}

func (r *PostgresGuestRepository) List(ctx context.Context) ([]*domain.Guest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var guests []model.Guest
	if err := r.db.WithContext(ctx).Order("lower(full_name), id").Find(&guests).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransaction, err)
	}

	result := make([]*domain.Guest, 0, len(guests))
	for i := range guests {
		result = append(result, toDomainGuest(&guests[i]))
	}
	return result, nil
}

func (r *PostgresGuestRepository) CountArrivals(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	var counts struct {
		Total   int64
		Arrived int64
	}
	err := r.db.WithContext(ctx).Model(&model.Guest{}).
		Select("count(*) AS total, count(*) FILTER (WHERE state = ?) AS arrived", string(domain.StateArrived)).
		Scan(&counts).Error
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTransaction, err)
	}
	return int(counts.Total), int(counts.Arrived), nil
}

type PostgresOperatorRepository struct {
	db *gorm.DB
}

func NewPostgresOperatorRepository(db *gorm.DB) *PostgresOperatorRepository {
	return &PostgresOperatorRepository{db: db}
}

func (r *PostgresOperatorRepository) Create(ctx context.Context, operator *domain.Operator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if operator == nil {
		return errors.New("operator is nil")
	}

	if err := r.db.WithContext(ctx).Create(toModelOperator(operator)).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrOperatorNameExists
		}
		return err
	}
	return nil
}

func (r *PostgresOperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PostgresOperatorRepository) GetByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *PostgresOperatorRepository) first(ctx context.Context, query string, arg any) (*domain.Operator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var operator model.Operator
	err := r.db.WithContext(ctx).First(&operator, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}

	return toDomainOperator(&operator), nil
}

func (r *PostgresOperatorRepository) Update(ctx context.Context, operator *domain.Operator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if operator == nil {
		return errors.New("operator is nil")
	}

	m := toModelOperator(operator)
	res := r.db.WithContext(ctx).Model(&model.Operator{}).Where("id = ?", m.ID).Updates(map[string]any{
		"username":      m.Username,
		"password_hash": m.PasswordHash,
		"capabilities":  m.Capabilities,
		"updated_at":    m.UpdatedAt,
	})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrOperatorNameExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toModelGuest(guest *domain.Guest) *model.Guest {
	var arrivedAt *time.Time
	if guest.ArrivalTime != nil {
		t := guest.ArrivalTime.UTC()
		arrivedAt = &t
	}
	state := guest.State
	if state == "" {
		state = domain.StateNotArrived
	}

	return &model.Guest{
		ID:          guest.ID,
		FullName:    guest.FullName,
		Role:        guest.Role,
		PhotoRef:    guest.PhotoRef,
		Token:       guest.Token,
		QRImageRef:  guest.QRImageRef,
		State:       string(state),
		ArrivedAt:   arrivedAt,
		CheckedInBy: guest.CheckedInBy,
		CreatedAt:   guest.CreatedAt.UTC(),
		UpdatedAt:   guest.UpdatedAt.UTC(),
	}
}

func toDomainGuest(guest *model.Guest) *domain.Guest {
	var arrival *time.Time
	if guest.ArrivedAt != nil {
		t := guest.ArrivedAt.UTC()
		arrival = &t
	}

	return &domain.Guest{
		ID:          guest.ID,
		FullName:    guest.FullName,
		Role:        guest.Role,
		PhotoRef:    guest.PhotoRef,
		Token:       guest.Token,
		QRImageRef:  guest.QRImageRef,
		State:       domain.AttendanceState(guest.State),
		ArrivalTime: arrival,
		CheckedInBy: guest.CheckedInBy,
		CreatedAt:   guest.CreatedAt.UTC(),
		UpdatedAt:   guest.UpdatedAt.UTC(),
	}
}

func toModelOperator(operator *domain.Operator) *model.Operator {
	caps := make([]string, 0, len(operator.Capabilities))
	for _, c := range operator.Capabilities {
		caps = append(caps, string(c))
	}
	return &model.Operator{
		ID:           operator.ID,
		Username:     operator.Username,
		PasswordHash: operator.PasswordHash,
		Capabilities: strings.Join(caps, ","),
		CreatedAt:    operator.CreatedAt.UTC(),
		UpdatedAt:    operator.UpdatedAt.UTC(),
	}
}

func toDomainOperator(operator *model.Operator) *domain.Operator {
	var caps []domain.Capability
	for _, c := range strings.Split(operator.Capabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, domain.Capability(c))
		}
	}
	return &domain.Operator{
		ID:           operator.ID,
		Username:     operator.Username,
		PasswordHash: operator.PasswordHash,
		Capabilities: caps,
		CreatedAt:    operator.CreatedAt.UTC(),
		UpdatedAt:    operator.UpdatedAt.UTC(),
	}
}
