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

type OrderHandler struct {
	orderService    service.OrderService
	matchingService service.MatchingService
	validate        *validator.Validate
}

func NewOrderHandler(orderService service.OrderService, matchingService service.MatchingService) *OrderHandler {
	return &OrderHandler{
		orderService:    orderService,
		matchingService: matchingService,
		validate:        validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	client := middleware.RequireRole(models.RoleClient)
	driver := middleware.RequireRole(models.RoleDriver)
	admin := middleware.RequireRole(models.RoleAdmin)

	r.With(client).Post("/orders", h.CreateOrder)
	r.With(client).Post("/orders/estimate", h.Estimate)
	r.Get("/orders/active", h.GetActiveOrder)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/events", h.GetOrderEvents)
	r.Post("/orders/{id}/cancel", h.CancelOrder)

	r.With(driver).Post("/orders/{id}/claim", h.ClaimOrder)
	r.With(driver).Post("/orders/{id}/decline", h.DeclineOrder)
	r.With(driver).Post("/orders/{id}/arrive", h.MarkArrived)
	r.With(driver).Post("/orders/{id}/start", h.StartOrder)
	r.With(driver).Post("/orders/{id}/complete", h.CompleteOrder)

	r.With(admin).Post("/admin/orders/{id}/cancel", h.AdminCancelOrder)
}

// POST /v1/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	order, err := h.orderService.CreateOrder(r.Context(), actor(r).ID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, order.ToResponse())
}

// POST /v1/orders/estimate
func (h *OrderHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req models.EstimateRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	estimate, err := h.orderService.Estimate(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, estimate)
}

// GET /v1/orders/active
func (h *OrderHandler) GetActiveOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.ActiveOrderFor(r.Context(), actor(r))
	if err != nil {
		handleError(w, err)
		return
	}

	var resp *models.OrderResponse
	if order != nil {
		resp = order.ToResponse()
	}
	utils.Success(w, http.StatusOK, map[string]any{"order": resp})
}

// GET /v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.Get(r.Context(), id, actor(r))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// GET /v1/orders/{id}/events
func (h *OrderHandler) GetOrderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	history, err := h.orderService.History(r.Context(), id, actor(r))
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, history)
}

// POST /v1/orders/{id}/claim
func (h *OrderHandler) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.Claim(r.Context(), id, actor(r).ID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// POST /v1/orders/{id}/decline
func (h *OrderHandler) DeclineOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	if err := h.matchingService.Decline(r.Context(), id, actor(r).ID); err != nil {
		handleError(w, err)
		return
	}

	utils.NoContent(w)
}

// POST /v1/orders/{id}/arrive
func (h *OrderHandler) MarkArrived(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.MarkArrived(r.Context(), id, actor(r).ID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// POST /v1/orders/{id}/start
func (h *OrderHandler) StartOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orderService.Start(r.Context(), id, actor(r).ID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// POST /v1/orders/{id}/complete
func (h *OrderHandler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req models.CompleteOrderRequest
	if err := decode(r, h.validate, &req, false); err != nil {
		handleError(w, err)
		return
	}

	order, err := h.orderService.Complete(r.Context(), id, actor(r).ID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// POST /v1/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req models.CancelOrderRequest
	if err := decode(r, h.validate, &req, true); err != nil {
		handleError(w, err)
		return
	}

	order, err := h.orderService.Cancel(r.Context(), id, actor(r), req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}

// POST /v1/admin/orders/{id}/cancel
func (h *OrderHandler) AdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req models.CancelOrderRequest
	if err := decode(r, h.validate, &req, true); err != nil {
		handleError(w, err)
		return
	}

	order, err := h.orderService.AdminCancel(r.Context(), id, actor(r).ID, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, order.ToResponse())
}
