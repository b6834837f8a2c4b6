package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PROXIMITY_BACKEND", "grid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := DefaultMatchingSettings()
	if cfg.Matching != want {
		t.Errorf("Matching = %+v, want %+v", cfg.Matching, want)
	}
	if cfg.KafkaTopic != "order-events" || cfg.RabbitMQExchange != "order.events" {
		t.Errorf("event sink defaults = %q %q", cfg.KafkaTopic, cfg.RabbitMQExchange)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PROXIMITY_BACKEND", "grid")
	t.Setenv("OFFER_TIMEOUT", "20s")
	t.Setenv("MAX_ORDER_WAIT", "5m")
	t.Setenv("DISCONNECT_POLICY", "Requeue")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matching.OfferTimeout != 20*time.Second || cfg.Matching.MaxOrderWait != 5*time.Minute {
		t.Errorf("durations = %v %v", cfg.Matching.OfferTimeout, cfg.Matching.MaxOrderWait)
	}
	if cfg.Matching.DisconnectPolicy != PolicyRequeue {
		t.Errorf("DisconnectPolicy = %q", cfg.Matching.DisconnectPolicy)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadCollectsAllErrors(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PROXIMITY_BACKEND", "grid")
	t.Setenv("OFFER_TIMEOUT", "fifteen")
	t.Setenv("MAX_OFFERS_PER_ROUND", "lots")
	t.Setenv("DRIVER_CANCEL_POLICY", "keep")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil")
	}
	for _, key := range []string{"OFFER_TIMEOUT", "MAX_OFFERS_PER_ROUND", "DRIVER_CANCEL_POLICY"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
