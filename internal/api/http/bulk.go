package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/qr"
	"github.com/immxrtalbeast/checkin/internal/service"
)

type bulkRequest struct {
	GuestIDs []uuid.UUID `json:"guest_ids" binding:"required"`
}

type bulkItem struct {
	GuestID uuid.UUID                `json:"guest_id"`
	Outcome domain.Outcome           `json:"outcome,omitempty"`
	Error   string                   `json:"error,omitempty"`
	Guest   *converter.GuestResponse `json:"guest,omitempty"`
}

type bulkResponse struct {
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Results   []bulkItem `json:"results"`
}

func bindGuestIDs(ctx *gin.Context) ([]uuid.UUID, bool) {
	var req bulkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return nil, false
	}
	return req.GuestIDs, true
}

// writeBulk answers 200 whenever the batch ran, even if every guest in it
// failed; per-guest errors are in the results.
func writeBulk(ctx *gin.Context, presenter converter.Presenter, results []domain.BulkResult, err error) {
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp := bulkResponse{Results: make([]bulkItem, 0, len(results))}
	for _, r := range results {
		item := bulkItem{GuestID: r.GuestID, Outcome: r.Outcome}
		if r.Err != nil {
			item.Error = bulkError(r.Err)
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		if r.Guest != nil {
			item.Guest = presenter.GuestToApi(r.Guest)
		}
		resp.Results = append(resp.Results, item)
	}
	ctx.JSON(http.StatusOK, resp)
}

func bulkError(err error) string {
	switch {
	case errors.Is(err, service.ErrGuestNotFound):
		return "guest not found"
	case errors.Is(err, qr.ErrEncoding), errors.Is(err, service.ErrQRPending):
		return "qr image could not be generated"
	case errors.Is(err, service.ErrTransaction):
		return "server error, retry later"
	}
	return "internal error"
}
