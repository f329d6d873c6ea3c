package handler

import (
	"net/http"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type DriverHandler struct {
	driverService  service.DriverService
	requestService service.TripRequestService
	bidService     service.BidService
	validate       *validator.Validate
}

func NewDriverHandler(
	driverService service.DriverService,
	requestService service.TripRequestService,
	bidService service.BidService,
	validate *validator.Validate,
) *DriverHandler {
	return &DriverHandler{
		driverService:  driverService,
		requestService: requestService,
		bidService:     bidService,
		validate:       validate,
	}
}

func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRole(models.RoleAdmin)).Post("/drivers", h.CreateDriver)
	r.Get("/drivers/{id}", h.GetDriver)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleDriver))
		r.Put("/drivers/me/location", h.UpdateLocation)
		r.Post("/drivers/me/status", h.SetStatus)
		r.Get("/drivers/me/trip-requests", h.ListTripRequests)
		r.Get("/drivers/me/bids", h.ListBids)
	})
}

// POST /v1/drivers
func (h *DriverHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDriverRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	driver, err := h.driverService.CreateDriver(r.Context(), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, driver)
}

// GET /v1/drivers/{id}
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "me" {
		id = actor(r).UserID
	}

	driver, err := h.driverService.GetDriver(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, driver)
}

// PUT /v1/drivers/me/location
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDriverLocationRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	if err := h.driverService.UpdateLocation(r.Context(), actor(r).UserID, &req); err != nil {
		handleError(w, r, err)
		return
	}

	utils.NoContent(w)
}

// POST /v1/drivers/me/status
func (h *DriverHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDriverStatusRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	driver, err := h.driverService.SetStatus(r.Context(), actor(r).UserID, req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, driver)
}

// GET /v1/drivers/me/trip-requests?lat=&lng=&radius_km=
// Without coordinates the driver's last reported position is used.
func (h *DriverHandler) ListTripRequests(w http.ResponseWriter, r *http.Request) {
	driverID := actor(r).UserID

	lat, hasLat, err := queryFloat(r, "lat")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}
	lng, hasLng, err := queryFloat(r, "lng")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}
	radius, _, err := queryFloat(r, "radius_km")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	location := geo.Point{Lat: lat, Lng: lng}
	if !hasLat || !hasLng {
		driver, err := h.driverService.GetDriver(r.Context(), driverID)
		if err != nil {
			handleError(w, r, err)
			return
		}
		loc, ok := driver.Location()
		if !ok {
			handleError(w, r, apperrors.Validation("lat and lng are required until a location is reported"))
			return
		}
		location = loc
	}

	matches, err := h.requestService.ListMatchingDriver(r.Context(), driverID, location, radius)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, matches)
}

// GET /v1/drivers/me/bids
func (h *DriverHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	bids, err := h.bidService.ListForDriver(r.Context(), actor(r).UserID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, bids)
}
