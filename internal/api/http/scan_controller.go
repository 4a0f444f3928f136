package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
)

const maxScanImageBytes = 8 << 20

const (
	codeSuccess        = "success"
	codeAlreadyArrived = "already_arrived"
	codeUnknownToken   = "unknown_token"
	codeInvalidRequest = "invalid_request"
	codeServerError    = "server_error"
)

type ScanController struct {
	attendance service.AttendanceInteractor
	presenter  converter.Presenter
	log        *slog.Logger
}

func NewScanController(attendance service.AttendanceInteractor, presenter converter.Presenter, log *slog.Logger) *ScanController {
	return &ScanController{attendance: attendance, presenter: presenter, log: log}
}

type scanResponse struct {
	Success bool                         `json:"success"`
	Code    string                       `json:"code"`
	Message string                       `json:"message"`
	Guest   *converter.ScanGuestResponse `json:"guest,omitempty"`
}

func (c *ScanController) Scan(ctx *gin.Context) {
	type request struct {
		Token  string `json:"token"`
		Device string `json:"device"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, scanResponse{
			Code:    codeInvalidRequest,
			Message: "invalid request body",
		})
		return
	}

	res, err := c.attendance.RecordArrival(ctx.Request.Context(), req.Token, req.Device)
	c.respond(ctx, res, err)
}

func (c *ScanController) ScanImage(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxScanImageBytes)

	file, err := ctx.FormFile("image")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, scanResponse{
			Code:    codeInvalidRequest,
			Message: "image is required",
		})
		return
	}
	f, err := file.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, scanResponse{
			Code:    codeInvalidRequest,
			Message: "image is unreadable",
		})
		return
	}
	defer f.Close()

	res, err := c.attendance.ScanImage(ctx.Request.Context(), f, ctx.PostForm("device"))
	c.respond(ctx, res, err)
}

func (c *ScanController) ResetArrival(ctx *gin.Context) {
	guestID, err := uuid.Parse(ctx.Param("guestID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid guest id"})
		return
	}

	res, err := c.attendance.ResetArrival(ctx.Request.Context(), guestID, operatorName(ctx))
	c.respondAdmin(ctx, res, err)
}

// MarkArrived checks a guest in by id, for guests who cannot show a code.
func (c *ScanController) MarkArrived(ctx *gin.Context) {
	guestID, err := uuid.Parse(ctx.Param("guestID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid guest id"})
		return
	}

	res, err := c.attendance.MarkArrivedByID(ctx.Request.Context(), guestID, operatorName(ctx))
	c.respondAdmin(ctx, res, err)
}

func (c *ScanController) MarkArrivedMany(ctx *gin.Context) {
	ids, ok := bindGuestIDs(ctx)
	if !ok {
		return
	}
	results, err := c.attendance.MarkArrivedMany(ctx.Request.Context(), ids, operatorName(ctx))
	if err != nil && !errors.Is(err, service.ErrInvalidInput) {
		c.log.Error("bulk arrival failed", sl.Err(err))
	}
	writeBulk(ctx, c.presenter, results, err)
}

func (c *ScanController) ResetArrivalMany(ctx *gin.Context) {
	ids, ok := bindGuestIDs(ctx)
	if !ok {
		return
	}
	results, err := c.attendance.ResetArrivalMany(ctx.Request.Context(), ids, operatorName(ctx))
	if err != nil && !errors.Is(err, service.ErrInvalidInput) {
		c.log.Error("bulk reset failed", sl.Err(err))
	}
	writeBulk(ctx, c.presenter, results, err)
}

// respondAdmin answers 200 for every defined outcome, including
// already_arrived and not_arrived.
func (c *ScanController) respondAdmin(ctx *gin.Context, res *domain.ArrivalResult, err error) {
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGuestNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": "guest not found"})
		case errors.Is(err, service.ErrTransaction):
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "server error, retry later"})
		default:
			c.log.Error("attendance change failed", sl.Err(err))
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"outcome": res.Outcome,
		"guest":   c.presenter.GuestToApi(res.Guest),
	})
}

func operatorName(ctx *gin.Context) string {
	if op := operatorFrom(ctx); op != nil {
		return op.Username
	}
	return domain.UnknownDevice
}

func (c *ScanController) respond(ctx *gin.Context, res *domain.ArrivalResult, err error) {
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownToken):
			ctx.JSON(http.StatusNotFound, scanResponse{
				Code:    codeUnknownToken,
				Message: "invalid code, scan again",
			})
		case errors.Is(err, service.ErrInvalidInput):
			ctx.JSON(http.StatusBadRequest, scanResponse{
				Code:    codeInvalidRequest,
				Message: "no readable code in image, scan again",
			})
		default:
			if !errors.Is(err, service.ErrTransaction) {
				c.log.Error("scan failed", sl.Err(err))
			}
			ctx.JSON(http.StatusServiceUnavailable, scanResponse{
				Code:    codeServerError,
				Message: "server error, retry later",
			})
		}
		return
	}

	guest := c.presenter.ScanGuestToApi(res.Guest)
	switch res.Outcome {
	case domain.OutcomeAlreadyArrived:
		ctx.JSON(http.StatusConflict, scanResponse{
			Code:    codeAlreadyArrived,
			Message: fmt.Sprintf("%s already checked in at %s", res.Guest.FullName, guest.ArrivalTime),
			Guest:   guest,
		})
	default:
		ctx.JSON(http.StatusOK, scanResponse{
			Success: true,
			Code:    codeSuccess,
			Message: "welcome, " + res.Guest.FullName,
			Guest:   guest,
		})
	}
}
