package http

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
)

const maxRecentArrivals = 50

type ReportController struct {
	reports   service.ReportInteractor
	presenter converter.Presenter
	log       *slog.Logger
}

func NewReportController(reports service.ReportInteractor, presenter converter.Presenter, log *slog.Logger) *ReportController {
	return &ReportController{reports: reports, presenter: presenter, log: log}
}

func (c *ReportController) Stats(ctx *gin.Context) {
	recent := service.DefaultRecentArrivals
	if raw := ctx.Query("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "recent must be a non-negative integer"})
			return
		}
		recent = min(n, maxRecentArrivals)
	}

	stats, err := c.reports.Stats(ctx.Request.Context(), recent)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"stats": c.presenter.StatsToApi(stats)})
}

func (c *ReportController) NotArrived(ctx *gin.Context) {
	guests, err := c.reports.NotArrived(ctx.Request.Context())
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guests": c.presenter.GuestsToApi(guests)})
}

func (c *ReportController) ExportCSV(ctx *gin.Context) {
	var buf bytes.Buffer
	if err := c.reports.ExportCSV(ctx.Request.Context(), &buf); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
	ctx.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (c *ReportController) Me(ctx *gin.Context) {
	op := operatorFrom(ctx)
	if op == nil {
		unauthorized(ctx)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"operator": op})
}

func (c *ReportController) fail(ctx *gin.Context, err error) {
	if errors.Is(err, service.ErrTransaction) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "server error, retry later"})
		return
	}
	c.log.Error("report failed", sl.Err(err))
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
