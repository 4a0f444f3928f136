package domain

type FeedEventType string

const (
	FeedEventArrival FeedEventType = "arrival"
	FeedEventReset   FeedEventType = "reset"
)

// FeedEvent is pushed to live dashboards after an attendance transition.
type FeedEvent struct {
	ID          string        `json:"id"`
	Type        FeedEventType `json:"type"`
	GuestID     string        `json:"guest_id"`
	Name        string        `json:"name"`
	Role        string        `json:"role"`
	Photo       string        `json:"photo,omitempty"`
	ArrivalTime string        `json:"arrival_time,omitempty"`
	CheckedInBy string        `json:"checked_in_by,omitempty"`
	Total       int           `json:"total"`
	Arrived     int           `json:"arrived"`
}
