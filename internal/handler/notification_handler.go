package handler

import (
	"net/http"
	"strconv"

	"github.com/aditya/towbid/internal/service"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-chi/chi/v5"
)

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(notificationService service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", h.List)
	r.Get("/notifications/unread-count", h.UnreadCount)
	r.Post("/notifications/read-all", h.MarkAllRead)
	r.Post("/notifications/{id}/read", h.MarkRead)
}

// GET /v1/notifications?after=&unread=&limit=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after int64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			utils.BadRequest(w, r, "after must be a non-negative integer")
			return
		}
		after = v
	}
	unread := false
	if raw := q.Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			utils.BadRequest(w, r, "unread must be a boolean")
			return
		}
		unread = v
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		utils.BadRequest(w, r, err.Error())
		return
	}

	list, err := h.notificationService.List(r.Context(), actor(r).UserID, after, unread, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, list)
}

// GET /v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notificationService.UnreadCount(r.Context(), actor(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]int{"unread": n})
}

// POST /v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.MarkRead(r.Context(), actor(r).UserID, chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}

	utils.NoContent(w)
}

// POST /v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notificationService.MarkAllRead(r.Context(), actor(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]int64{"marked": n})
}
