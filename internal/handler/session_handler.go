package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/observability"
	"github.com/aditya/ride-dispatch/internal/service"
	"github.com/aditya/ride-dispatch/internal/session"
	"github.com/aditya/ride-dispatch/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const heartbeatPeriod = 15 * time.Second

// SessionHandler accepts the push channels: a websocket, or a server-sent
// event stream for clients without websocket support. Either way the actor is
// registered in the Registry and receives a snapshot first.
type SessionHandler struct {
	registry        *session.Registry
	orderService    service.OrderService
	matchingService service.MatchingService
	driverService   service.DriverService
	upgrader        websocket.Upgrader
	logger          *slog.Logger
}

func NewSessionHandler(
	registry *session.Registry,
	orderService service.OrderService,
	matchingService service.MatchingService,
	driverService service.DriverService,
	logger *slog.Logger,
) *SessionHandler {
	return &SessionHandler{
		registry:        registry,
		orderService:    orderService,
		matchingService: matchingService,
		driverService:   driverService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Connect)
	r.Get("/events/stream", h.Stream)
}

// GET /v1/ws
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	a := actor(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "actor_id", a.ID, "error", err)
		return
	}

	conn := session.NewConn(ws, h.logger)
	h.open(r.Context(), a, conn)
	defer h.close(a, conn)

	conn.ReadPump()
}

// GET /v1/events/stream
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	a := actor(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.InternalError(w, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := session.NewStream()
	h.open(r.Context(), a, stream)
	defer h.close(a, stream)

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			return
		case msg := <-stream.Messages():
			if err := session.WriteEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *SessionHandler) open(ctx context.Context, a models.Actor, ch session.Channel) {
	h.registry.Register(a, ch)
	observability.SessionsActive.Set(float64(h.registry.Count()))

	snapshot, err := h.snapshot(ctx, a)
	if err != nil {
		h.logger.Error("build session snapshot", "actor_id", a.ID, "error", err)
		return
	}
	h.registry.Send(a.ID, session.EventSessionSnapshot, snapshot)
}

func (h *SessionHandler) close(a models.Actor, ch session.Channel) {
	ch.Close()
	h.registry.Unregister(a.ID, ch)
	observability.SessionsActive.Set(float64(h.registry.Count()))
}

// snapshot reads the actor's current state from the store. Pushes missed
// while disconnected are not replayed; this is what the app reconciles from.
func (h *SessionHandler) snapshot(ctx context.Context, a models.Actor) (*models.SessionSnapshot, error) {
	snap := &models.SessionSnapshot{Actor: a}

	order, err := h.orderService.ActiveOrderFor(ctx, a)
	if err != nil {
		return nil, err
	}
	if order != nil {
		snap.ActiveOrder = order.ToResponse()
	}

	if a.IsDriver() {
		if snap.Offers, err = h.matchingService.PendingOffers(ctx, a.ID); err != nil {
			return nil, err
		}
		if snap.Presence, err = h.driverService.Presence(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
