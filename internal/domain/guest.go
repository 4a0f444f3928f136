package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceState string

const (
	StateNotArrived AttendanceState = "not_arrived"
	StateArrived    AttendanceState = "arrived"
)

const (
	MaxFullNameLength    = 200
	MaxRoleLength        = 150
	MaxCheckedInByLength = 100

	UnknownDevice = "unknown device"
)

// Guest is an invited person. Token is the only key used at the door;
// QRImageRef is derived from it and may be empty while the image is pending.
type Guest struct {
	ID          uuid.UUID
	FullName    string
	Role        string
	PhotoRef    string
	Token       string
	QRImageRef  string
	State       AttendanceState
	ArrivalTime *time.Time
	CheckedInBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GuestInput carries the administrator-editable guest fields.
type GuestInput struct {
	FullName string `validate:"required,max=200"`
	Role     string `validate:"required,max=150"`
	PhotoRef string `validate:"omitempty,max=255"`
}

func NewGuest(in GuestInput, token string, now time.Time) *Guest {
	return &Guest{
		ID:        uuid.New(),
		FullName:  in.FullName,
		Role:      in.Role,
		PhotoRef:  in.PhotoRef,
		Token:     token,
		State:     StateNotArrived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (g *Guest) Arrived() bool {
	return g.State == StateArrived
}

func (g *Guest) QRPending() bool {
	return g.QRImageRef == ""
}

// MarkArrived moves the guest to ARRIVED. It reports false and leaves the
// guest untouched when the guest had already arrived.
func (g *Guest) MarkArrived(at time.Time, by string) bool {
	if g.Arrived() {
		return false
	}
	g.State = StateArrived
	g.ArrivalTime = &at
	g.CheckedInBy = truncate(by, MaxCheckedInByLength)
	g.UpdatedAt = at
	return true
}

// ResetArrival moves the guest back to NOT_ARRIVED and records audit in
// CheckedInBy. It reports false when the guest had not arrived.
func (g *Guest) ResetArrival(audit string, at time.Time) bool {
	if !g.Arrived() {
		return false
	}
	g.State = StateNotArrived
	g.ArrivalTime = nil
	g.CheckedInBy = truncate(audit, MaxCheckedInByLength)
	g.UpdatedAt = at
	return true
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (g *Guest) Clone() *Guest {
	if g == nil {
		return nil
	}
	cp := *g
	if g.ArrivalTime != nil {
		t := *g.ArrivalTime
		cp.ArrivalTime = &t
	}
	return &cp
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
