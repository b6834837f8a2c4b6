package handler

import (
	"net/http"

	"github.com/aditya/ride-dispatch/internal/auth"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type tokenRequest struct {
	ActorID string `json:"actor_id" validate:"required,max=64"`
	Role    string `json:"role" validate:"required,oneof=client driver admin"`
}

// AuthHandler mints tokens for local development and load tests. Production
// tokens come from the identity service.
type AuthHandler struct {
	jwt      *auth.JWTManager
	validate *validator.Validate
}

func NewAuthHandler(jwt *auth.JWTManager) *AuthHandler {
	return &AuthHandler{jwt: jwt, validate: validator.New()}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/token", h.IssueToken)
}

// POST /v1/auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	token, err := h.jwt.GenerateToken(models.Actor{ID: req.ActorID, Role: req.Role})
	if err != nil {
		utils.Error(w, apperrors.InternalError("failed to sign token"))
		return
	}

	utils.Created(w, map[string]string{"token": token, "token_type": "Bearer"})
}
