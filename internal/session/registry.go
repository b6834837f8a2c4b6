package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/scheduler"
)

// Channel events
const (
	EventOfferIssued          = "offer.issued"
	EventOfferRetracted       = "offer.retracted"
	EventDriverLocationUpdate = "driver.locationUpdate"
	EventOrderStatusChanged   = "order.statusChanged"
	EventSessionSnapshot      = "session.snapshot"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrBufferFull    = errors.New("send buffer full")
)

// Message is the envelope pushed over a channel. Every push is a hint: the
// receiver re-reads the order it names.
type Message struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Channel is one live bidirectional connection. Send must not block.
type Channel interface {
	Send(msg Message) error
	Close() error
}

type session struct {
	actor   models.Actor
	channel Channel
}

// Registry maps an actor to at most one live channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]session

	grace          time.Duration
	timers         *scheduler.Scheduler
	onGraceExpired func(ctx context.Context, actor models.Actor)
	logger         *slog.Logger
}

func NewRegistry(grace time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]session),
		grace:    grace,
		timers:   scheduler.New(),
		logger:   logger,
	}
}

// OnGraceExpired is called when a driver stays disconnected for the whole grace period.
func (r *Registry) OnGraceExpired(fn func(ctx context.Context, actor models.Actor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onGraceExpired = fn
}

// Register binds ch to the actor. The previous channel, if any, is closed.
func (r *Registry) Register(actor models.Actor, ch Channel) {
	r.mu.Lock()
	prev, had := r.sessions[actor.ID]
	r.sessions[actor.ID] = session{actor: actor, channel: ch}
	total := len(r.sessions)
	r.mu.Unlock()

	if r.timers.Cancel(graceKey(actor.ID)) {
		r.logger.Info("driver reconnected within grace period", "actor_id", actor.ID)
	}

	if had && prev.channel != ch {
		prev.channel.Close()
		r.logger.Info("session replaced", "actor_id", actor.ID, "role", actor.Role)
	}
	r.logger.Info("session registered", "actor_id", actor.ID, "role", actor.Role, "total", total)
}

// Unregister removes ch if it is still the actor's current channel. A stale
// channel, already replaced by a reconnect, is ignored.
func (r *Registry) Unregister(actorID string, ch Channel) bool {
	r.mu.Lock()
	current, ok := r.sessions[actorID]
	if !ok || current.channel != ch {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, actorID)
	onExpired := r.onGraceExpired
	r.mu.Unlock()

	r.logger.Info("session unregistered", "actor_id", actorID, "role", current.actor.Role)

	if current.actor.IsDriver() && onExpired != nil {
		actor := current.actor
		r.timers.Schedule(graceKey(actorID), r.grace, func() {
			if r.IsConnected(actor.ID) {
				return
			}
			r.logger.Info("driver grace period expired", "driver_id", actor.ID)
			onExpired(context.Background(), actor)
		})
	}
	return true
}

// Send is best-effort. It reports whether the message was handed to a channel.
func (r *Registry) Send(actorID, event string, payload any) bool {
	r.mu.RLock()
	s, ok := r.sessions[actorID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("push dropped, actor not connected", "actor_id", actorID, "event", event)
		return false
	}

	msg := Message{Event: event, Payload: payload, SentAt: time.Now()}
	if err := s.channel.Send(msg); err != nil {
		r.logger.Warn("push dropped", "actor_id", actorID, "event", event, "error", err)
		return false
	}
	return true
}

func (r *Registry) IsConnected(actorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[actorID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close drops every channel and pending grace timer.
func (r *Registry) Close() {
	r.timers.Stop()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.channel.Close()
	}
}

func graceKey(actorID string) string {
	return "grace:" + actorID
}
