package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
)

const (
	DefaultRecentArrivals = 5
	utf8BOM               = "\ufeff"
)

var csvHeader = []string{"Name", "Role", "Arrived", "Arrival time", "Checked in by", "Token"}

// ReportService builds dashboard views. Reads are point-in-time snapshots
// and are not serialized with concurrent check-ins.
type ReportService struct {
	guests repository.GuestRepository
	zone   *venuetime.Zone
	log    *slog.Logger
}

func NewReportService(guests repository.GuestRepository, zone *venuetime.Zone, log *slog.Logger) *ReportService {
	if log == nil {
		log = slog.Default()
	}
	return &ReportService{guests: guests, zone: zone, log: log}
}

// Stats counts arrivals and returns the most recent ones, newest first.
func (s *ReportService) Stats(ctx context.Context, recent int) (*domain.AttendanceStats, error) {
	const op = "service.report.stats"
	ctx, span := tracer.Start(ctx, "ReportService.Stats")
	defer span.End()

	guests, err := s.guests.List(ctx)
	if err != nil {
		s.log.With(slog.String("op", op)).Error("list failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, storeErr(err))
	}
	if recent < 0 {
		recent = 0
	}

	stats := &domain.AttendanceStats{Total: len(guests)}
	arrived := make([]*domain.Guest, 0, len(guests))
	for _, g := range guests {
		if g.Arrived() {
			arrived = append(arrived, g)
		}
	}
	stats.Arrived = len(arrived)
	stats.NotArrived = stats.Total - stats.Arrived
	if stats.Total > 0 {
		stats.Percentage = math.Round(float64(stats.Arrived)*1000/float64(stats.Total)) / 10
	}

	sort.SliceStable(arrived, func(i, j int) bool {
		return arrivalOf(arrived[i]).After(arrivalOf(arrived[j]))
	})
	if len(arrived) > recent {
		arrived = arrived[:recent]
	}
	stats.RecentArrivals = arrived
	return stats, nil
}

// NotArrived lists guests still expected, ordered by name.
func (s *ReportService) NotArrived(ctx context.Context) ([]*domain.Guest, error) {
	const op = "service.report.not_arrived"

	guests, err := s.guests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storeErr(err))
	}
	pending := make([]*domain.Guest, 0, len(guests))
	for _, g := range guests {
		if !g.Arrived() {
			pending = append(pending, g)
		}
	}
	return pending, nil
}

// ExportCSV writes every guest as CSV. The leading byte order mark lets
// spreadsheet tools detect UTF-8.
func (s *ReportService) ExportCSV(ctx context.Context, w io.Writer) error {
	const op = "service.report.export_csv"
	ctx, span := tracer.Start(ctx, "ReportService.ExportCSV")
	defer span.End()

	guests, err := s.guests.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storeErr(err))
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, g := range guests {
		arrived := "no"
		if g.Arrived() {
			arrived = "yes"
		}
		record := []string{
			g.FullName,
			g.Role,
			arrived,
			s.zone.Format(g.ArrivalTime),
			g.CheckedInBy,
			g.Token,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("attendance exported", slog.String("op", op), "rows", len(guests))
	return nil
}

func arrivalOf(g *domain.Guest) time.Time {
	if g.ArrivalTime == nil {
		return time.Time{}
	}
	return *g.ArrivalTime
}
