package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aditya/ride-dispatch/internal/cache"
	"github.com/aditya/ride-dispatch/internal/config"
	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/events"
	"github.com/aditya/ride-dispatch/internal/logging"
	"github.com/aditya/ride-dispatch/internal/maps"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/aditya/ride-dispatch/internal/repository"
)

// Bengaluru, MG Road to Indiranagar
const (
	pickupLat  = 12.9716
	pickupLng  = 77.5946
	dropoffLat = 12.9784
	dropoffLng = 77.6408
)

type pushed struct {
	event   string
	payload any
}

// recorder is a Sender that keeps every push.
type recorder struct {
	mu           sync.Mutex
	pushes       map[string][]pushed
	disconnected map[string]bool
}

func newRecorder() *recorder {
	return &recorder{pushes: make(map[string][]pushed), disconnected: make(map[string]bool)}
}

func (r *recorder) Send(actorID, event string, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected[actorID] {
		return false
	}
	r.pushes[actorID] = append(r.pushes[actorID], pushed{event: event, payload: payload})
	return true
}

func (r *recorder) IsConnected(actorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disconnected[actorID]
}

func (r *recorder) disconnect(actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected[actorID] = true
}

func (r *recorder) received(actorID, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, p := range r.pushes[actorID] {
		if p.event == event {
			out = append(out, p.payload)
		}
	}
	return out
}

type harness struct {
	orders   OrderService
	matching MatchingService
	drivers  DriverService
	orderDB  repository.OrderRepository
	offerDB  repository.OfferRepository
	index    cache.ProximityIndex
	sender   *recorder
}

func testSettings() config.MatchingSettings {
	s := config.DefaultMatchingSettings()
	s.OfferTimeout = time.Minute
	s.MaxOrderWait = 5 * time.Minute
	return s
}

func newHarness(t *testing.T, settings config.MatchingSettings) *harness {
	t.Helper()

	logger := logging.Discard()
	bus := events.NewBus(logger)
	orderDB := repository.NewMemoryOrderRepository()
	offerDB := repository.NewMemoryOfferRepository()
	index := cache.NewGridIndex(cache.DefaultCellDegrees)
	sender := newRecorder()

	pricing := NewPricingService(NewStaticTariffProvider(1))
	orders := NewOrderService(orderDB, offerDB, pricing, maps.NewHaversineEstimator(), bus, settings.DriverCancelPolicy, nil, logger)
	matching := NewMatchingService(orders, orderDB, offerDB, index, sender, settings, logger)
	drivers := NewDriverService(index, orderDB, orders, sender, settings.DisconnectPolicy, logger)

	bus.Subscribe(drivers.HandleEvent)
	bus.Subscribe(matching.HandleEvent)
	bus.Subscribe(NewNotifier(sender, logger).HandleEvent)
	t.Cleanup(matching.Stop)

	return &harness{
		orders:   orders,
		matching: matching,
		drivers:  drivers,
		orderDB:  orderDB,
		offerDB:  offerDB,
		index:    index,
		sender:   sender,
	}
}

func (h *harness) online(t *testing.T, driverID string, lat, lng float64) {
	t.Helper()
	req := &models.GoOnlineRequest{Lat: lat, Lng: lng, CarClass: models.CarClassEconomy}
	if _, err := h.drivers.GoOnline(context.Background(), driverID, req); err != nil {
		t.Fatalf("GoOnline(%s): %v", driverID, err)
	}
}

func (h *harness) createOrder(t *testing.T, clientID string) *models.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(context.Background(), clientID, &models.CreateOrderRequest{
		Pickup:   &models.Location{Lat: pickupLat, Lng: pickupLng, Address: "MG Road"},
		Dropoff:  &models.Location{Lat: dropoffLat, Lng: dropoffLng, Address: "Indiranagar"},
		CarClass: models.CarClassEconomy,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func (h *harness) status(t *testing.T, orderID string) *models.Order {
	t.Helper()
	order, err := h.orderDB.GetByID(context.Background(), orderID)
	if err != nil || order == nil {
		t.Fatalf("GetByID(%s) = %v, %v", orderID, order, err)
	}
	return order
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	drivers := []string{"d1", "d2", "d3", "d4", "d5"}
	for i, id := range drivers {
		h.online(t, id, pickupLat+float64(i)*0.001, pickupLng)
	}
	order := h.createOrder(t, "c1")

	for _, id := range drivers {
		if got := len(h.sender.received(id, "offer.issued")); got != 1 {
			t.Fatalf("driver %s got %d offers, want 1", id, got)
		}
	}

	racers := drivers[:4]
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for _, id := range racers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, err := h.orders.Claim(ctx, order.ID, driverID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, driverID)
				return
			}
			errs = append(errs, err)
		}(id)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	for _, err := range errs {
		if !errors.Is(err, apperrors.ErrAlreadyClaimed) {
			t.Errorf("loser error = %v, want ErrAlreadyClaimed", err)
		}
		if !errors.Is(err, apperrors.ErrInvalidTransition) {
			t.Errorf("loser error = %v, want it to match ErrInvalidTransition", err)
		}
	}

	got := h.status(t, order.ID)
	if got.Status != models.OrderStatusAccepted || !got.HeldBy(winners[0]) {
		t.Fatalf("order = %s held by %s, want ACCEPTED held by %s", got.Status, got.DriverID(), winners[0])
	}

	retracted := h.sender.received("d5", "offer.retracted")
	if len(retracted) != 1 {
		t.Fatalf("idle driver got %d retractions, want 1", len(retracted))
	}
	if n := retracted[0].(models.RetractNotice); n.Reason != models.RetractReasonTaken || n.OrderID != order.ID {
		t.Errorf("retraction = %+v, want reason taken for %s", n, order.ID)
	}

	offer, err := h.offerDB.GetLatest(ctx, order.ID, winners[0])
	if err != nil || offer == nil || offer.Status != models.OfferStatusAccepted {
		t.Errorf("winner offer = %+v, %v; want accepted", offer, err)
	}

	p, _ := h.drivers.Presence(ctx, winners[0])
	if p.Status != models.DriverStatusBusy || p.ActiveOrderID != order.ID {
		t.Errorf("winner presence = %+v, want BUSY on %s", p, order.ID)
	}
	if h.matching.ActiveDispatches() != 0 {
		t.Errorf("ActiveDispatches() = %d after claim, want 0", h.matching.ActiveDispatches())
	}
}

func TestUnmatchedOrderIsCancelledAfterMaxWait(t *testing.T) {
	settings := testSettings()
	settings.OfferTimeout = 20 * time.Millisecond
	settings.MaxOrderWait = 80 * time.Millisecond
	h := newHarness(t, settings)

	order := h.createOrder(t, "c1")

	waitFor(t, "order cancellation", func() bool {
		o, _ := h.orderDB.GetByID(context.Background(), order.ID)
		return o != nil && o.Status == models.OrderStatusCancelled
	})

	got := h.status(t, order.ID)
	if got.CancelReason == nil || *got.CancelReason != apperrors.ErrNoDriversAvailable.Error() {
		t.Errorf("cancel reason = %v, want %q", got.CancelReason, apperrors.ErrNoDriversAvailable.Error())
	}

	notices := h.sender.received("c1", "order.statusChanged")
	last := notices[len(notices)-1].(models.StatusNotice)
	if last.Status != models.OrderStatusCancelled || last.Reason != apperrors.ErrNoDriversAvailable.Error() {
		t.Errorf("last client notice = %+v, want CANCELLED / no drivers available", last)
	}

	waitFor(t, "dispatch teardown", func() bool { return h.matching.ActiveDispatches() == 0 })
}

func TestRoundEndExpandsRadius(t *testing.T) {
	settings := testSettings()
	settings.OfferTimeout = 30 * time.Millisecond
	h := newHarness(t, settings)

	// About 6.7 km north: outside 5 km, inside 7.5 km.
	h.online(t, "far", pickupLat+0.06, pickupLng)
	order := h.createOrder(t, "c1")

	if n := len(h.sender.received("far", "offer.issued")); n != 0 {
		t.Fatalf("far driver offered in round 0")
	}

	waitFor(t, "offer after expansion", func() bool {
		return len(h.sender.received("far", "offer.issued")) == 1
	})

	if _, err := h.orders.Claim(context.Background(), order.ID, "far"); err != nil {
		t.Fatalf("Claim after expansion: %v", err)
	}
}

func TestExpiredOffersAreRetracted(t *testing.T) {
	settings := testSettings()
	settings.OfferTimeout = 30 * time.Millisecond
	h := newHarness(t, settings)

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")

	waitFor(t, "expiry retraction", func() bool {
		return len(h.sender.received("d1", "offer.retracted")) >= 1
	})
	n := h.sender.received("d1", "offer.retracted")[0].(models.RetractNotice)
	if n.Reason != models.RetractReasonExpired {
		t.Errorf("reason = %q, want expired", n.Reason)
	}

	// Already offered drivers are not offered again on the same order.
	time.Sleep(4 * settings.OfferTimeout)
	if got := len(h.sender.received("d1", "offer.issued")); got != 1 {
		t.Errorf("driver offered %d times, want 1", got)
	}

	_, err := h.orders.Claim(context.Background(), order.ID, "d1")
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Errorf("Claim with expired offer = %v, want ErrForbidden", err)
	}
}

// A round can end after a claim commits but before order.accepted is handled.
func TestRoundEndDuringClaimSparesWinner(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	h.online(t, "d2", pickupLat+0.002, pickupLng)
	order := h.createOrder(t, "c1")

	if claimed, err := h.orderDB.Claim(ctx, order.ID, "d1"); err != nil || claimed == nil {
		t.Fatalf("Claim in storage = %v, %v", claimed, err)
	}
	h.matching.(*matchingService).onRoundEnd(order.ID)

	if got := h.sender.received("d1", "offer.retracted"); len(got) != 0 {
		t.Errorf("winner got retractions %+v", got)
	}
	if n := len(h.sender.received("d2", "offer.issued")); n != 1 {
		t.Errorf("d2 got %d offers, want no new round after the claim", n)
	}

	h.matching.HandleEvent(ctx, events.Event{Type: events.OrderAccepted, OrderID: order.ID, DriverID: "d1"})
	offer, err := h.offerDB.GetLatest(ctx, order.ID, "d1")
	if err != nil || offer == nil {
		t.Fatalf("GetLatest = %v, %v", offer, err)
	}
	if offer.Status != models.OfferStatusAccepted {
		t.Errorf("winning offer = %s, want ACCEPTED", offer.Status)
	}
}

func TestClaimWithoutOfferIsForbidden(t *testing.T) {
	h := newHarness(t, testSettings())
	order := h.createOrder(t, "c1")

	_, err := h.orders.Claim(context.Background(), order.ID, "stranger")
	if !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("Claim() = %v, want ErrForbidden", err)
	}
}

func TestLifecycleToCompletion(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")

	steps := []struct {
		name string
		run  func() (*models.Order, error)
		want models.OrderStatus
	}{
		{"claim", func() (*models.Order, error) { return h.orders.Claim(ctx, order.ID, "d1") }, models.OrderStatusAccepted},
		{"arrive", func() (*models.Order, error) { return h.orders.MarkArrived(ctx, order.ID, "d1") }, models.OrderStatusArrived},
		{"start", func() (*models.Order, error) { return h.orders.Start(ctx, order.ID, "d1") }, models.OrderStatusInProgress},
		{"complete", func() (*models.Order, error) {
			return h.orders.Complete(ctx, order.ID, "d1", &models.CompleteOrderRequest{ActualDistanceKm: 10.4, ActualDurationMin: 22})
		}, models.OrderStatusCompleted},
	}
	for _, step := range steps {
		got, err := step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, got.Status, step.want)
		}
	}

	done := h.status(t, order.ID)
	if done.FinalPrice == nil || *done.FinalPrice != 366 {
		t.Errorf("final price = %v, want 366", done.FinalPrice)
	}

	history, err := h.orders.History(ctx, order.ID, models.Actor{ID: "c1", Role: models.RoleClient})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 5 {
		t.Errorf("history has %d events, want 5", len(history))
	}

	p, _ := h.drivers.Presence(ctx, "d1")
	if p.Status != models.DriverStatusOnline || p.ActiveOrderID != "" {
		t.Errorf("presence after completion = %+v, want ONLINE and unbound", p)
	}
}

func TestDriverStepGuards(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")
	if _, err := h.orders.Claim(ctx, order.ID, "d1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"other driver arrives", func() error {
			_, err := h.orders.MarkArrived(ctx, order.ID, "d2")
			return err
		}, apperrors.ErrForbidden},
		{"start before arrival", func() error {
			_, err := h.orders.Start(ctx, order.ID, "d1")
			return err
		}, apperrors.ErrInvalidTransition},
		{"complete before start", func() error {
			_, err := h.orders.Complete(ctx, order.ID, "d1", &models.CompleteOrderRequest{})
			return err
		}, apperrors.ErrInvalidTransition},
		{"unknown order", func() error {
			_, err := h.orders.MarkArrived(ctx, "missing", "d1")
			return err
		}, apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if tt.want == apperrors.ErrNotFound {
				if apperrors.FromError(err).Code != "not_found" {
					t.Fatalf("error = %v, want not found", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()
	client := models.Actor{ID: "c1", Role: models.RoleClient}

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")

	if _, err := h.orders.Cancel(ctx, order.ID, models.Actor{ID: "c2", Role: models.RoleClient}, ""); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("Cancel by another client = %v, want ErrForbidden", err)
	}

	got, err := h.orders.Cancel(ctx, order.ID, client, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != models.OrderStatusCancelled || got.ClaimedDriverID != nil {
		t.Fatalf("cancelled order = %s / %v", got.Status, got.ClaimedDriverID)
	}

	if _, err := h.orders.Cancel(ctx, order.ID, client, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("second Cancel = %v, want ErrInvalidTransition", err)
	}

	retracted := h.sender.received("d1", "offer.retracted")
	if len(retracted) != 1 || retracted[0].(models.RetractNotice).Reason != models.RetractReasonCancelled {
		t.Errorf("driver retractions = %+v, want one with reason cancelled", retracted)
	}

	// The client may order again once the previous order is terminal.
	h.createOrder(t, "c1")
}

func TestOneActiveOrderPerClient(t *testing.T) {
	h := newHarness(t, testSettings())
	h.createOrder(t, "c1")

	_, err := h.orders.CreateOrder(context.Background(), "c1", &models.CreateOrderRequest{
		Pickup:   &models.Location{Lat: pickupLat, Lng: pickupLng, Address: "MG Road"},
		Dropoff:  &models.Location{Lat: dropoffLat, Lng: dropoffLng, Address: "Indiranagar"},
		CarClass: models.CarClassEconomy,
	})
	if !errors.Is(err, apperrors.ErrActiveOrderExists) {
		t.Fatalf("second CreateOrder = %v, want ErrActiveOrderExists", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t, testSettings())
	same := &models.Location{Lat: pickupLat, Lng: pickupLng, Address: "MG Road"}

	tests := []struct {
		name string
		req  *models.CreateOrderRequest
	}{
		{"missing dropoff", &models.CreateOrderRequest{Pickup: same, CarClass: models.CarClassEconomy}},
		{"identical endpoints", &models.CreateOrderRequest{Pickup: same, Dropoff: same, CarClass: models.CarClassEconomy}},
		{"unknown class", &models.CreateOrderRequest{
			Pickup:   same,
			Dropoff:  &models.Location{Lat: dropoffLat, Lng: dropoffLng, Address: "Indiranagar"},
			CarClass: "LIMO",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orders.CreateOrder(context.Background(), "c1", tt.req)
			if !errors.Is(err, apperrors.ErrInvalidRequest) {
				t.Fatalf("CreateOrder() = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestDriverCancelPolicy(t *testing.T) {
	tests := []struct {
		policy     string
		wantStatus models.OrderStatus
	}{
		{config.PolicyRequeue, models.OrderStatusPending},
		{config.PolicyCancel, models.OrderStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			settings := testSettings()
			settings.DriverCancelPolicy = tt.policy
			h := newHarness(t, settings)
			ctx := context.Background()

			h.online(t, "d1", pickupLat, pickupLng)
			h.online(t, "d2", pickupLat+0.002, pickupLng)
			order := h.createOrder(t, "c1")
			if _, err := h.orders.Claim(ctx, order.ID, "d1"); err != nil {
				t.Fatalf("Claim: %v", err)
			}

			got, err := h.orders.Cancel(ctx, order.ID, models.Actor{ID: "d1", Role: models.RoleDriver}, "flat tyre")
			if err != nil {
				t.Fatalf("driver Cancel: %v", err)
			}
			if got.Status != tt.wantStatus || got.ClaimedDriverID != nil {
				t.Fatalf("order = %s held by %q, want %s and unclaimed", got.Status, got.DriverID(), tt.wantStatus)
			}

			p, _ := h.drivers.Presence(ctx, "d1")
			if p.Status != models.DriverStatusOnline {
				t.Errorf("d1 status = %s, want ONLINE", p.Status)
			}

			again, err := h.orders.Cancel(ctx, order.ID, models.Actor{ID: "d1", Role: models.RoleDriver}, "")
			if tt.policy == config.PolicyCancel {
				if !errors.Is(err, apperrors.ErrInvalidTransition) {
					t.Fatalf("repeated driver Cancel = %v (%v), want ErrInvalidTransition", err, again)
				}
				return
			}
			// Requeued: the order is live again but no longer d1's.
			if !errors.Is(err, apperrors.ErrForbidden) {
				t.Fatalf("driver Cancel after requeue = %v, want ErrForbidden", err)
			}
			if n := len(h.sender.received("d2", "offer.issued")); n != 2 {
				t.Errorf("d2 got %d offers, want a second one after requeue", n)
			}
			if n := len(h.sender.received("d1", "offer.issued")); n != 1 {
				t.Errorf("d1 got %d offers, want no re-offer after cancelling", n)
			}
			if _, err := h.orders.Claim(ctx, order.ID, "d2"); err != nil {
				t.Errorf("d2 Claim after requeue: %v", err)
			}
		})
	}
}

func TestAdminCancelInProgress(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")
	for _, step := range []func(context.Context, string, string) (*models.Order, error){
		h.orders.Claim, h.orders.MarkArrived, h.orders.Start,
	} {
		if _, err := step(ctx, order.ID, "d1"); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	client := models.Actor{ID: "c1", Role: models.RoleClient}
	if _, err := h.orders.Cancel(ctx, order.ID, client, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("client Cancel in progress = %v, want ErrInvalidTransition", err)
	}

	got, err := h.orders.AdminCancel(ctx, order.ID, "admin-1", "fraud review")
	if err != nil {
		t.Fatalf("AdminCancel: %v", err)
	}
	if got.Status != models.OrderStatusCancelled || *got.CancelledBy != models.RoleAdmin {
		t.Errorf("order = %s by %v, want CANCELLED by admin", got.Status, got.CancelledBy)
	}

	p, _ := h.drivers.Presence(ctx, "d1")
	if p.Status != models.DriverStatusOnline {
		t.Errorf("driver status = %s after admin cancel, want ONLINE", p.Status)
	}
}

func TestGraceExpiry(t *testing.T) {
	tests := []struct {
		policy       string
		wantStatus   models.OrderStatus
		wantPresence string
	}{
		{config.PolicyKeep, models.OrderStatusAccepted, models.DriverStatusBusy},
		{config.PolicyRequeue, models.OrderStatusPending, models.DriverStatusOffline},
		{config.PolicyCancel, models.OrderStatusCancelled, models.DriverStatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			settings := testSettings()
			settings.DisconnectPolicy = tt.policy
			h := newHarness(t, settings)
			ctx := context.Background()

			h.online(t, "d1", pickupLat, pickupLng)
			order := h.createOrder(t, "c1")
			if _, err := h.orders.Claim(ctx, order.ID, "d1"); err != nil {
				t.Fatalf("Claim: %v", err)
			}

			h.sender.disconnect("d1")
			h.drivers.OnGraceExpired(ctx, models.Actor{ID: "d1", Role: models.RoleDriver})

			if got := h.status(t, order.ID); got.Status != tt.wantStatus {
				t.Errorf("order status = %s, want %s", got.Status, tt.wantStatus)
			}
			p, _ := h.drivers.Presence(ctx, "d1")
			if p.Status != tt.wantPresence {
				t.Errorf("presence = %s, want %s", p.Status, tt.wantPresence)
			}
		})
	}
}

func TestDeclineOffer(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")

	pending, err := h.matching.PendingOffers(ctx, "d1")
	if err != nil || len(pending) != 1 || pending[0].Order == nil || pending[0].Order.ID != order.ID {
		t.Fatalf("PendingOffers() = %+v, %v", pending, err)
	}

	if err := h.matching.Decline(ctx, order.ID, "d1"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if err := h.matching.Decline(ctx, order.ID, "d1"); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("second Decline = %v, want ErrInvalidTransition", err)
	}
	if err := h.matching.Decline(ctx, order.ID, "d9"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Decline without offer = %v, want ErrNotFound", err)
	}

	pending, _ = h.matching.PendingOffers(ctx, "d1")
	if len(pending) != 0 {
		t.Errorf("PendingOffers() after decline = %d, want 0", len(pending))
	}
}

func TestDriverAvailability(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	if _, err := h.drivers.SetAvailability(ctx, "d1", models.DriverStatusBreak); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Fatalf("break while offline = %v, want ErrInvalidRequest", err)
	}

	h.online(t, "d1", pickupLat, pickupLng)
	if _, err := h.drivers.SetAvailability(ctx, "d1", models.DriverStatusBreak); err != nil {
		t.Fatalf("SetAvailability(BREAK): %v", err)
	}

	// Drivers on a break receive no offers.
	order := h.createOrder(t, "c1")
	if n := len(h.sender.received("d1", "offer.issued")); n != 0 {
		t.Fatalf("driver on break got %d offers", n)
	}
	if _, err := h.orders.Cancel(ctx, order.ID, models.Actor{ID: "c1", Role: models.RoleClient}, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := h.drivers.SetAvailability(ctx, "d1", models.DriverStatusOnline); err != nil {
		t.Fatalf("SetAvailability(ONLINE): %v", err)
	}
	order = h.createOrder(t, "c1")
	if _, err := h.orders.Claim(ctx, order.ID, "d1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := h.drivers.GoOffline(ctx, "d1"); !errors.Is(err, apperrors.ErrDriverBusy) {
		t.Errorf("GoOffline while busy = %v, want ErrDriverBusy", err)
	}
}

func TestLocationUpdateReachesClient(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")
	if _, err := h.orders.Claim(ctx, order.ID, "d1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	heading := 90.0
	err := h.drivers.UpdateLocation(ctx, "d1", &models.UpdateDriverLocationRequest{Lat: 12.9720, Lng: 77.5950, Heading: &heading})
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}

	updates := h.sender.received("c1", "driver.locationUpdate")
	if len(updates) != 1 {
		t.Fatalf("client got %d location updates, want 1", len(updates))
	}
	if n := updates[0].(models.LocationNotice); n.OrderID != order.ID || n.Lat != 12.9720 {
		t.Errorf("notice = %+v", n)
	}

	if err := h.drivers.UpdateLocation(ctx, "ghost", &models.UpdateDriverLocationRequest{Lat: 1, Lng: 1}); !errors.Is(err, apperrors.ErrInvalidRequest) {
		t.Errorf("UpdateLocation for offline driver = %v, want ErrInvalidRequest", err)
	}
}

func TestGetVisibility(t *testing.T) {
	h := newHarness(t, testSettings())
	ctx := context.Background()

	h.online(t, "d1", pickupLat, pickupLng)
	order := h.createOrder(t, "c1")

	tests := []struct {
		name    string
		actor   models.Actor
		allowed bool
	}{
		{"client", models.Actor{ID: "c1", Role: models.RoleClient}, true},
		{"offered driver", models.Actor{ID: "d1", Role: models.RoleDriver}, true},
		{"admin", models.Actor{ID: "a1", Role: models.RoleAdmin}, true},
		{"other client", models.Actor{ID: "c2", Role: models.RoleClient}, false},
		{"other driver", models.Actor{ID: "d9", Role: models.RoleDriver}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orders.Get(ctx, order.ID, tt.actor)
			if tt.allowed && err != nil {
				t.Fatalf("Get() = %v, want allowed", err)
			}
			if !tt.allowed && !errors.Is(err, apperrors.ErrForbidden) {
				t.Fatalf("Get() = %v, want ErrForbidden", err)
			}
		})
	}
}
