package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aditya/towbid/internal/middleware"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/pkg/utils"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates it. It writes the 400 itself
// and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequest(w, r, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		utils.BadRequest(w, r, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	utils.Error(w, r, err)
}

// actor is set by middleware.Authenticate for every /v1 route.
func actor(r *http.Request) models.Actor {
	a, _ := middleware.ActorFrom(r.Context())
	return a
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
	return f, true, nil
}
