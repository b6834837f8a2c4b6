package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aditya/ride-dispatch/internal/auth"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func decode(r *http.Request, validate *validator.Validate, dst any, optional bool) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return apperrors.InvalidRequest("invalid request body")
		}
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.InvalidRequest("%s", err.Error())
	}
	return nil
}

// orderID reads the {id} path parameter. Order IDs are UUIDs; anything else
// is answered with 404 before it reaches storage.
func orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		utils.NotFound(w, "order")
		return "", false
	}
	return id, true
}

func actor(r *http.Request) models.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

func handleError(w http.ResponseWriter, err error) {
	utils.Error(w, apperrors.FromError(err))
}
