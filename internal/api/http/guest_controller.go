package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/qr"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
)

const maxPhotoUploadBytes = 10 << 20

type GuestController struct {
	guests    service.GuestInteractor
	presenter converter.Presenter
	log       *slog.Logger
}

func NewGuestController(guests service.GuestInteractor, presenter converter.Presenter, log *slog.Logger) *GuestController {
	return &GuestController{guests: guests, presenter: presenter, log: log}
}

type guestRequest struct {
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Photo    string `json:"photo"`
}

func (r guestRequest) toInput() domain.GuestInput {
	return domain.GuestInput{FullName: r.FullName, Role: r.Role, PhotoRef: r.Photo}
}

func (c *GuestController) CreateGuest(ctx *gin.Context) {
	var req guestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	guest, err := c.guests.CreateGuest(ctx.Request.Context(), req.toInput())
	if err != nil {
		if guest != nil && errors.Is(err, service.ErrQRPending) {
			c.log.Warn("guest created without qr image", "guest_id", guest.ID.String(), sl.Err(err))
			ctx.JSON(http.StatusCreated, gin.H{
				"guest":   c.presenter.GuestToApi(guest),
				"warning": "qr image could not be generated, regenerate it later",
			})
			return
		}
		c.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

func (c *GuestController) ListGuests(ctx *gin.Context) {
	guests, err := c.guests.ListGuests(ctx.Request.Context())
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guests": c.presenter.GuestsToApi(guests)})
}

func (c *GuestController) GetGuest(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	guest, err := c.guests.GetGuest(ctx.Request.Context(), id)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

// GetGuestByToken serves the public QR page. It shows nothing but what the
// guest already holds.
func (c *GuestController) GetGuestByToken(ctx *gin.Context) {
	guest, err := c.guests.GetGuestByToken(ctx.Request.Context(), ctx.Param("token"))
	if err != nil {
		if errors.Is(err, service.ErrUnknownToken) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "invitation not found"})
			return
		}
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.PublicGuestToApi(guest)})
}

func (c *GuestController) UpdateGuest(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	var req guestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	guest, err := c.guests.UpdateGuest(ctx.Request.Context(), id, req.toInput())
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

func (c *GuestController) SetPhoto(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxPhotoUploadBytes)

	file, err := ctx.FormFile("photo")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "photo is required"})
		return
	}
	f, err := file.Open()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "photo is unreadable"})
		return
	}
	defer f.Close()

	guest, err := c.guests.SetPhoto(ctx.Request.Context(), id, f)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

func (c *GuestController) DeleteGuest(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	if err := c.guests.DeleteGuest(ctx.Request.Context(), id); err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *GuestController) RegenerateQR(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	guest, err := c.guests.RegenerateQR(ctx.Request.Context(), id)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

func (c *GuestController) RegenerateQRMany(ctx *gin.Context) {
	ids, ok := bindGuestIDs(ctx)
	if !ok {
		return
	}
	results, err := c.guests.RegenerateQRMany(ctx.Request.Context(), ids)
	if err != nil && !errors.Is(err, service.ErrInvalidInput) {
		c.log.Error("bulk qr regeneration failed", sl.Err(err))
	}
	writeBulk(ctx, c.presenter, results, err)
}

func (c *GuestController) RegenerateToken(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	guest, err := c.guests.RegenerateToken(ctx.Request.Context(), id)
	if err != nil {
		if guest != nil && errors.Is(err, service.ErrQRPending) {
			ctx.JSON(http.StatusOK, gin.H{
				"guest":   c.presenter.GuestToApi(guest),
				"warning": "qr image could not be generated, regenerate it later",
			})
			return
		}
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"guest": c.presenter.GuestToApi(guest)})
}

func (c *GuestController) QRImage(ctx *gin.Context) {
	id, ok := guestID(ctx)
	if !ok {
		return
	}
	data, err := c.guests.QRImage(ctx.Request.Context(), id)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", data)
}

func (c *GuestController) fail(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGuestNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "guest not found"})
	case errors.Is(err, qr.ErrEncoding):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": "qr image could not be generated"})
	case errors.Is(err, service.ErrTransaction):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "server error, retry later"})
	default:
		c.log.Error("guest request failed", sl.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func guestID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("guestID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid guest id"})
		return uuid.Nil, false
	}
	return id, true
}
