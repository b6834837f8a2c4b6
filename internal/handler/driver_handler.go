package handler

import (
	"net/http"

	"github.com/aditya/ride-dispatch/internal/middleware"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/service"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type DriverHandler struct {
	driverService   service.DriverService
	matchingService service.MatchingService
	validate        *validator.Validate
}

func NewDriverHandler(driverService service.DriverService, matchingService service.MatchingService) *DriverHandler {
	return &DriverHandler{
		driverService:   driverService,
		matchingService: matchingService,
		validate:        validator.New(),
	}
}

func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Route("/drivers/me", func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleDriver))
		r.Get("/", h.GetPresence)
		r.Post("/online", h.GoOnline)
		r.Post("/offline", h.GoOffline)
		r.Put("/status", h.SetStatus)
		r.Post("/location", h.UpdateLocation)
		r.Get("/offers", h.GetPendingOffers)
	})
	r.With(middleware.RequireRole(models.RoleAdmin)).Get("/admin/drivers/{id}", h.GetDriverPresence)
}

// GET /v1/drivers/me
func (h *DriverHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	presence, err := h.driverService.Presence(r.Context(), actor(r).ID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, presence)
}

// POST /v1/drivers/me/online
func (h *DriverHandler) GoOnline(w http.ResponseWriter, r *http.Request) {
	var req models.GoOnlineRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	presence, err := h.driverService.GoOnline(r.Context(), actor(r).ID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, presence)
}

// POST /v1/drivers/me/offline
func (h *DriverHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.driverService.GoOffline(r.Context(), actor(r).ID); err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]string{"status": models.DriverStatusOffline})
}

// PUT /v1/drivers/me/status
func (h *DriverHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.SetDriverStatusRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	presence, err := h.driverService.SetAvailability(r.Context(), actor(r).ID, req.Status)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, presence)
}

// POST /v1/drivers/me/location
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateDriverLocationRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	if err := h.driverService.UpdateLocation(r.Context(), actor(r).ID, &req); err != nil {
		handleError(w, err)
		return
	}

	utils.NoContent(w)
}

// GET /v1/drivers/me/offers
func (h *DriverHandler) GetPendingOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.matchingService.PendingOffers(r.Context(), actor(r).ID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, offers)
}

// GET /v1/admin/drivers/{id}
func (h *DriverHandler) GetDriverPresence(w http.ResponseWriter, r *http.Request) {
	presence, err := h.driverService.Presence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, presence)
}
