package service

import (
	"context"
	"testing"

	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestOperatorService_SeedAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryOperatorRepository()
	svc := NewOperatorService(repo, discardLogger())

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, svc.SeedOperators(ctx, []OperatorSeed{
		{Username: "door", Password: "scan-me", Capabilities: []string{"scan"}},
		{Username: "root", PasswordHash: string(hash), Capabilities: []string{"ADMIN"}},
	}))

	door, err := svc.Authenticate(ctx, "door", "scan-me")
	require.NoError(t, err)
	assert.True(t, door.Can(domain.CapabilityScan))
	assert.False(t, door.Can(domain.CapabilityAdmin))

	root, err := svc.Authenticate(ctx, "root", "s3cret")
	require.NoError(t, err)
	assert.True(t, root.Can(domain.CapabilityRegister))

	_, err = svc.Authenticate(ctx, "door", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "scan-me")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.SeedOperators(ctx, []OperatorSeed{
		{Username: "door", Password: "rotated", Capabilities: []string{"scan", "register"}},
	}))
	_, err = svc.Authenticate(ctx, "door", "scan-me")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	door, err = svc.Authenticate(ctx, "door", "rotated")
	require.NoError(t, err)
	assert.True(t, door.Can(domain.CapabilityRegister))
}

func TestOperatorService_SeedRejectsBadEntries(t *testing.T) {
	ctx := context.Background()
	svc := NewOperatorService(repository.NewInMemoryOperatorRepository(), discardLogger())

	tt := []struct {
		name string
		seed OperatorSeed
	}{
		{name: "no username", seed: OperatorSeed{Password: "x", Capabilities: []string{"scan"}}},
		{name: "unknown capability", seed: OperatorSeed{Username: "a", Password: "x", Capabilities: []string{"escaneo"}}},
		{name: "no password", seed: OperatorSeed{Username: "a", Capabilities: []string{"scan"}}},
		{name: "bad hash", seed: OperatorSeed{Username: "a", PasswordHash: "plain", Capabilities: []string{"scan"}}},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.SeedOperators(ctx, []OperatorSeed{tc.seed}), ErrInvalidInput)
		})
	}
}
