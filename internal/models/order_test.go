package models

import (
	"slices"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusAccepted, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusInProgress, false},
		{OrderStatusAccepted, OrderStatusArrived, true},
		{OrderStatusAccepted, OrderStatusPending, true},
		{OrderStatusAccepted, OrderStatusCompleted, false},
		{OrderStatusArrived, OrderStatusInProgress, true},
		{OrderStatusArrived, OrderStatusCancelled, true},
		{OrderStatusInProgress, OrderStatusCompleted, true},
		{OrderStatusInProgress, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{"BOGUS", OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCanAdminCancel(t *testing.T) {
	for status, want := range map[OrderStatus]bool{
		OrderStatusPending:    true,
		OrderStatusAccepted:   true,
		OrderStatusArrived:    true,
		OrderStatusInProgress: true,
		OrderStatusCompleted:  false,
		OrderStatusCancelled:  false,
	} {
		o := &Order{Status: status}
		if got := o.CanAdminCancel(); got != want {
			t.Errorf("CanAdminCancel() from %s = %v, want %v", status, got, want)
		}
	}
}

func TestOrderParties(t *testing.T) {
	driver := "d1"
	o := &Order{ClientID: "c1", ClaimedDriverID: &driver}

	if !o.IsParty("c1") || !o.IsParty("d1") {
		t.Error("client and claimed driver must be parties")
	}
	if o.IsParty("d2") {
		t.Error("d2 is not a party")
	}
	if o.DriverID() != "d1" {
		t.Errorf("DriverID() = %q", o.DriverID())
	}

	o.ClaimedDriverID = nil
	if o.HeldBy("d1") || o.DriverID() != "" {
		t.Error("unclaimed order is held by nobody")
	}
}

func TestOfferIsLive(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		offer Offer
		want  bool
	}{
		{"pending in window", Offer{Status: OfferStatusPending, ExpiresAt: now.Add(time.Second)}, true},
		{"pending past window", Offer{Status: OfferStatusPending, ExpiresAt: now.Add(-time.Second)}, false},
		{"declined", Offer{Status: OfferStatusDeclined, ExpiresAt: now.Add(time.Second)}, false},
		{"retracted", Offer{Status: OfferStatusRetracted, ExpiresAt: now.Add(time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.offer.IsLive(now); got != tt.want {
				t.Errorf("IsLive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusSets(t *testing.T) {
	for status := range OrderTransitions {
		o := &Order{Status: status}
		terminal := len(OrderTransitions[status]) == 0
		if o.IsActive() == terminal {
			t.Errorf("IsActive() for %s = %v, want %v", status, o.IsActive(), !terminal)
		}
		claimed := slices.Contains(ClaimedStatuses, status)
		if want := o.IsActive() && status != OrderStatusPending; claimed != want {
			t.Errorf("%s in ClaimedStatuses = %v, want %v", status, claimed, want)
		}
	}
	if (&Order{Status: "BOGUS"}).IsActive() {
		t.Error("unknown status must not count as active")
	}
}
