package domain

import "github.com/google/uuid"

// Outcome is the defined, non-error result of an attendance transition.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyArrived Outcome = "already_arrived"
	OutcomeNotArrived     Outcome = "not_arrived"
)

// ArrivalResult pairs an outcome with the guest as persisted after the call.
type ArrivalResult struct {
	Outcome Outcome
	Guest   *Guest
}

// BulkResult is the fate of one guest in a batch request. Err is set when the
// guest could not be processed; the rest of the batch still runs.
type BulkResult struct {
	GuestID uuid.UUID
	Outcome Outcome
	Guest   *Guest
	Err     error
}

// AttendanceStats is a point-in-time aggregate for dashboards. It is not
// serialized with concurrent check-ins.
type AttendanceStats struct {
	Total          int
	Arrived        int
	NotArrived     int
	Percentage     float64
	RecentArrivals []*Guest
}
