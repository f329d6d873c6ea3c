package handler

import (
	"net/http"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type CreditHandler struct {
	creditService service.CreditService
	validate      *validator.Validate
}

func NewCreditHandler(creditService service.CreditService, validate *validator.Validate) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
		validate:      validate,
	}
}

func (h *CreditHandler) RegisterRoutes(r chi.Router) {
	r.Get("/drivers/{id}/credits", h.GetBalance)
	r.Get("/drivers/{id}/credits/transactions", h.ListTransactions)
	r.With(middleware.RequireRole(models.RoleDriver)).Post("/credits/topups", h.RequestTopUp)

	r.Route("/admin/credits", func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleAdmin))
		r.Post("/grants", h.Grant)
		r.Post("/reversals", h.Reverse)
		r.Get("/{driverID}/reconcile", h.Reconcile)
		r.Get("/topups", h.ListTopUps)
		r.Post("/topups/{id}/resolve", h.ResolveTopUp)
	})
}

// ownDriver resolves {id} ("me" allowed) and restricts access to the driver or an admin.
func ownDriver(r *http.Request) (string, error) {
	a := actor(r)
	id := chi.URLParam(r, "id")
	if id == "me" {
		id = a.UserID
	}
	if a.IsAdmin() {
		return id, nil
	}
	if a.Role != models.RoleDriver || a.UserID != id {
		return "", apperrors.Forbidden("credits are visible to the driver and admins only")
	}
	return id, nil
}

// GET /v1/drivers/{id}/credits
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	driverID, err := ownDriver(r)
	if err != nil {
		handleError(w, r, err)
		return
	}

	balance, err := h.creditService.GetBalance(r.Context(), driverID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, balance)
}

// GET /v1/drivers/{id}/credits/transactions
func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	driverID, err := ownDriver(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	txns, err := h.creditService.ListTransactions(r.Context(), driverID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, txns)
}

// POST /v1/credits/topups
func (h *CreditHandler) RequestTopUp(w http.ResponseWriter, r *http.Request) {
	var req models.RequestTopUpRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	topUp, err := h.creditService.RequestTopUp(r.Context(), actor(r).UserID, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, topUp)
}

// POST /v1/admin/credits/grants
func (h *CreditHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req models.GrantCreditsRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	metadata := models.JSONMap{"granted_by": actor(r).UserID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	txn, err := h.creditService.AddCredits(r.Context(), req.DriverID, req.Amount, models.CreditSourceAdminGrant, req.Description, metadata)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, txn)
}

// POST /v1/admin/credits/reversals
func (h *CreditHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req models.ReverseChargeRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	txn, err := h.creditService.ReverseCharge(r.Context(), actor(r).UserID, &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, txn)
}

// GET /v1/admin/credits/{driverID}/reconcile
func (h *CreditHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.creditService.Reconcile(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, report)
}

// GET /v1/admin/credits/topups?status=pending
func (h *CreditHandler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	topUps, err := h.creditService.ListTopUps(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, topUps)
}

// POST /v1/admin/credits/topups/{id}/resolve
func (h *CreditHandler) ResolveTopUp(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveTopUpRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	topUp, err := h.creditService.ResolveTopUp(r.Context(), chi.URLParam(r, "id"), actor(r).UserID, *req.Approve, req.Notes)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, topUp)
}
