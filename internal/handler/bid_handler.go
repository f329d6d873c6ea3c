package handler

import (
	"net/http"

	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type BidHandler struct {
	bidService service.BidService
}

func NewBidHandler(bidService service.BidService) *BidHandler {
	return &BidHandler{bidService: bidService}
}

func (h *BidHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRole(models.RoleDriver)).Post("/bids/{id}/withdraw", h.Withdraw)
	r.With(middleware.RequireRole(models.RoleAdmin)).Post("/admin/bids/{id}/expire", h.Expire)
}

// POST /v1/bids/{id}/withdraw
func (h *BidHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	bid, err := h.bidService.WithdrawBid(r.Context(), actor(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, bid)
}

// POST /v1/admin/bids/{id}/expire
func (h *BidHandler) Expire(w http.ResponseWriter, r *http.Request) {
	bid, err := h.bidService.ExpireBid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, bid)
}
