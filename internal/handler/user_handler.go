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

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
}

func NewUserHandler(userService service.UserService, validate *validator.Validate) *UserHandler {
	return &UserHandler{
		userService: userService,
		validate:    validate,
	}
}

func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRole(models.RoleAdmin)).Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)
}

// POST /v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	user, err := h.userService.CreateUser(r.Context(), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Created(w, user.ToResponse())
}

// GET /v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "me" {
		id = actor(r).UserID
	}
	if a := actor(r); !a.IsAdmin() && a.UserID != id {
		handleError(w, r, apperrors.Forbidden("cannot read another user"))
		return
	}

	user, err := h.userService.GetUser(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, user.ToResponse())
}
