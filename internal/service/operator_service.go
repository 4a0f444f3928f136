package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// OperatorSeed describes a staff account provisioned at startup. Password is
// hashed on seeding when PasswordHash is empty.
type OperatorSeed struct {
	Username     string
	Password     string
	PasswordHash string
	Capabilities []string
}

type OperatorService struct {
	operators repository.OperatorRepository
	log       *slog.Logger
	dummyHash []byte
}

func NewOperatorService(operators repository.OperatorRepository, log *slog.Logger) *OperatorService {
	if log == nil {
		log = slog.Default()
	}
	// Compared against for unknown usernames.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("checkin"), bcrypt.MinCost)
	return &OperatorService{operators: operators, log: log, dummyHash: dummy}
}

func (s *OperatorService) Authenticate(ctx context.Context, username, password string) (*domain.Operator, error) {
	const op = "service.operator.authenticate"

	operator, err := s.operators.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrOperatorNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := bcrypt.CompareHashAndPassword(operator.PasswordHash, []byte(password)); err != nil {
		s.log.Info("operator password mismatch",
			slog.String("op", op),
			slog.String("username", username),
		)
		return nil, ErrInvalidCredentials
	}
	return operator, nil
}

// SeedOperators creates or refreshes the configured accounts.
func (s *OperatorService) SeedOperators(ctx context.Context, seeds []OperatorSeed) error {
	const op = "service.operator.seed"
	log := s.log.With(slog.String("op", op))

	for _, seed := range seeds {
		username := strings.TrimSpace(seed.Username)
		if username == "" {
			return fmt.Errorf("%w: operator username is required", ErrInvalidInput)
		}

		caps := make([]domain.Capability, 0, len(seed.Capabilities))
		for _, c := range seed.Capabilities {
			capability := domain.Capability(strings.ToLower(strings.TrimSpace(c)))
			if !capability.Valid() {
				return fmt.Errorf("%w: operator %s: unknown capability %q", ErrInvalidInput, username, c)
			}
			caps = append(caps, capability)
		}

		hash := []byte(seed.PasswordHash)
		if len(hash) == 0 {
			if seed.Password == "" {
				return fmt.Errorf("%w: operator %s has no password", ErrInvalidInput, username)
			}
			var err error
			hash, err = bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		} else if _, err := bcrypt.Cost(hash); err != nil {
			return fmt.Errorf("%w: operator %s: password_hash is not bcrypt", ErrInvalidInput, username)
		}

		existing, err := s.operators.GetByUsername(ctx, username)
		switch {
		case errors.Is(err, repository.ErrOperatorNotFound):
			if err := s.operators.Create(ctx, domain.NewOperator(username, hash, caps)); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			log.Info("operator created", "username", username, "capabilities", seed.Capabilities)
		case err != nil:
			return fmt.Errorf("%s: %w", op, err)
		default:
			existing.PasswordHash = hash
			existing.Capabilities = caps
			existing.UpdatedAt = time.Now().UTC()
			if err := s.operators.Update(ctx, existing); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			log.Info("operator refreshed", "username", username, "capabilities", seed.Capabilities)
		}
	}
	return nil
}
