package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Capability string

const (
	CapabilityScan     Capability = "scan"
	CapabilityRegister Capability = "register"
	CapabilityAdmin    Capability = "admin"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityScan, CapabilityRegister, CapabilityAdmin:
		return true
	}
	return false
}

// Operator is a staff account allowed to use the scanner or the admin API.
type Operator struct {
	ID           uuid.UUID    `json:"id"`
	Username     string       `json:"username"`
	PasswordHash []byte       `json:"-"`
	Capabilities []Capability `json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func NewOperator(username string, passwordHash []byte, caps []Capability) *Operator {
	now := time.Now().UTC()
	return &Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Capabilities: caps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Can reports whether the operator holds c. Admins hold every capability.
func (o *Operator) Can(c Capability) bool {
	if o == nil {
		return false
	}
	return slices.Contains(o.Capabilities, CapabilityAdmin) || slices.Contains(o.Capabilities, c)
}
