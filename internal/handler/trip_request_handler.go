package handler

import (
	"net/http"

	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// TripRequestHandler serves requests and the bids placed on them.
type TripRequestHandler struct {
	requestService service.TripRequestService
	bidService     service.BidService
	validate       *validator.Validate
}

func NewTripRequestHandler(requestService service.TripRequestService, bidService service.BidService, validate *validator.Validate) *TripRequestHandler {
	return &TripRequestHandler{
		requestService: requestService,
		bidService:     bidService,
		validate:       validate,
	}
}

func (h *TripRequestHandler) RegisterRoutes(r chi.Router) {
	client := middleware.RequireRole(models.RoleClient)
	clientOrAdmin := middleware.RequireRole(models.RoleClient, models.RoleAdmin)

	r.With(client).Post("/trip-requests", h.Create)
	r.With(client).Get("/trip-requests", h.List)
	r.With(clientOrAdmin).Get("/trip-requests/{id}", h.Get)
	r.With(client).Post("/trip-requests/{id}/cancel", h.Cancel)

	r.With(middleware.RequireRole(models.RoleDriver)).Post("/trip-requests/{id}/bids", h.PlaceBid)
	r.With(clientOrAdmin).Get("/trip-requests/{id}/bids", h.ListBids)
	r.With(client).Post("/trip-requests/{id}/bids/{bidID}/accept", h.AcceptBid)
}

// POST /v1/trip-requests
func (h *TripRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTripRequestRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	res, err := h.requestService.Create(r.Context(), actor(r).UserID, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, res)
}

// GET /v1/trip-requests
func (h *TripRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	reqs, err := h.requestService.ListForClient(r.Context(), actor(r).UserID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, reqs)
}

// GET /v1/trip-requests/{id}
func (h *TripRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	tr, err := h.requestService.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, tr)
}

// POST /v1/trip-requests/{id}/cancel
func (h *TripRequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req models.CancelTripRequestRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	tr, err := h.requestService.Cancel(r.Context(), actor(r).UserID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, tr)
}

// POST /v1/trip-requests/{id}/bids
func (h *TripRequestHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req models.PlaceBidRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	bid, err := h.bidService.PlaceBid(r.Context(), actor(r).UserID, chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, bid)
}

// GET /v1/trip-requests/{id}/bids
func (h *TripRequestHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.bidService.ListForRequest(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, bids)
}

// POST /v1/trip-requests/{id}/bids/{bidID}/accept
func (h *TripRequestHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	trip, err := h.bidService.AcceptBid(r.Context(), actor(r).UserID, chi.URLParam(r, "id"), chi.URLParam(r, "bidID"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, trip)
}
