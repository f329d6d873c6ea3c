package handler

import (
	"net/http"

	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type TripHandler struct {
	tripService service.TripService
	validate    *validator.Validate
}

func NewTripHandler(tripService service.TripService, validate *validator.Validate) *TripHandler {
	return &TripHandler{
		tripService: tripService,
		validate:    validate,
	}
}

// Participant and role checks live in the service: any authenticated caller reaches it.
func (h *TripHandler) RegisterRoutes(r chi.Router) {
	r.Get("/trips", h.List)
	r.Get("/trips/{id}", h.Get)
	r.Post("/trips/{id}/status", h.Advance)
	r.Post("/trips/{id}/rating", h.Rate)
}

// GET /v1/trips
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	trips, err := h.tripService.ListForUser(r.Context(), actor(r), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, trips)
}

// GET /v1/trips/{id}
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	trip, err := h.tripService.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, trip)
}

// POST /v1/trips/{id}/status
func (h *TripHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req models.AdvanceTripRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	trip, err := h.tripService.Advance(r.Context(), actor(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, trip)
}

// POST /v1/trips/{id}/rating
func (h *TripHandler) Rate(w http.ResponseWriter, r *http.Request) {
	var req models.RateTripRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	trip, err := h.tripService.Rate(r.Context(), actor(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, trip)
}
