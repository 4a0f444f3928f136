package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
)

// Presenter turns domain values into API payloads. Times are shown in venue
// time and artifact refs become public URLs.
type Presenter struct {
	Zone     *venuetime.Zone
	MediaURL func(ref string) string
}

type GuestResponse struct {
	ID                 uuid.UUID              `json:"id"`
	FullName           string                 `json:"full_name"`
	Role               string                 `json:"role"`
	Photo              string                 `json:"photo,omitempty"`
	Token              string                 `json:"token"`
	QRImage            string                 `json:"qr_image,omitempty"`
	QRPending          bool                   `json:"qr_pending"`
	State              domain.AttendanceState `json:"state"`
	Arrived            bool                   `json:"arrived"`
	ArrivalTime        *time.Time             `json:"arrival_time"`
	ArrivalTimeDisplay string                 `json:"arrival_time_display"`
	CheckedInBy        string                 `json:"checked_in_by"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// ScanGuestResponse is the guest card shown to door staff.
type ScanGuestResponse struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	ArrivalTime string `json:"arrival_time"`
	CheckedInBy string `json:"checked_in_by"`
	Photo       string `json:"photo,omitempty"`
}

// PublicGuestResponse backs the page a guest opens to show their code.
type PublicGuestResponse struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Token   string `json:"token"`
	QRImage string `json:"qr_image,omitempty"`
	Arrived bool   `json:"arrived"`
}

type StatsResponse struct {
	Total          int                 `json:"total"`
	Arrived        int                 `json:"arrived"`
	NotArrived     int                 `json:"not_arrived"`
	Percentage     float64             `json:"percentage"`
	RecentArrivals []ScanGuestResponse `json:"recent_arrivals"`
}

func (p Presenter) GuestToApi(g *domain.Guest) *GuestResponse {
	resp := &GuestResponse{
		ID:                 g.ID,
		FullName:           g.FullName,
		Role:               g.Role,
		Photo:              p.url(g.PhotoRef),
		Token:              g.Token,
		QRImage:            p.url(g.QRImageRef),
		QRPending:          g.QRPending(),
		State:              g.State,
		Arrived:            g.Arrived(),
		ArrivalTimeDisplay: p.Zone.Format(g.ArrivalTime),
		CheckedInBy:        g.CheckedInBy,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
	if g.ArrivalTime != nil {
		t := p.Zone.Local(*g.ArrivalTime)
		resp.ArrivalTime = &t
	}
	return resp
}

func (p Presenter) GuestsToApi(guests []*domain.Guest) []*GuestResponse {
	res := make([]*GuestResponse, 0, len(guests))
	for _, g := range guests {
		res = append(res, p.GuestToApi(g))
	}
	return res
}

func (p Presenter) ScanGuestToApi(g *domain.Guest) *ScanGuestResponse {
	return &ScanGuestResponse{
		Name:        g.FullName,
		Role:        g.Role,
		ArrivalTime: p.Zone.Format(g.ArrivalTime),
		CheckedInBy: g.CheckedInBy,
		Photo:       p.url(g.PhotoRef),
	}
}

func (p Presenter) PublicGuestToApi(g *domain.Guest) *PublicGuestResponse {
	return &PublicGuestResponse{
		Name:    g.FullName,
		Role:    g.Role,
		Token:   g.Token,
		QRImage: p.url(g.QRImageRef),
		Arrived: g.Arrived(),
	}
}

func (p Presenter) StatsToApi(s *domain.AttendanceStats) *StatsResponse {
	recent := make([]ScanGuestResponse, 0, len(s.RecentArrivals))
	for _, g := range s.RecentArrivals {
		recent = append(recent, *p.ScanGuestToApi(g))
	}
	return &StatsResponse{
		Total:          s.Total,
		Arrived:        s.Arrived,
		NotArrived:     s.NotArrived,
		Percentage:     s.Percentage,
		RecentArrivals: recent,
	}
}

// FeedEventToApi rewrites the photo ref of event into a URL.
func (p Presenter) FeedEventToApi(event domain.FeedEvent) domain.FeedEvent {
	event.Photo = p.url(event.Photo)
	return event
}

func (p Presenter) url(ref string) string {
	if ref == "" || p.MediaURL == nil {
		return ""
	}
	return p.MediaURL(ref)
}
