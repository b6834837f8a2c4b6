package utils

import "testing"

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		min, max               float64
	}{
		{"same point", 12.9716, 77.5946, 12.9716, 77.5946, 0, 0},
		{"MG Road to Koramangala", 12.9716, 77.5946, 12.9352, 77.6245, 4, 6},
		{"one degree of latitude", 10, 20, 11, 20, 111, 112},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if got < tt.min || got > tt.max {
				t.Errorf("HaversineKm() = %v, want between %v and %v", got, tt.min, tt.max)
			}
		})
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(365.999); got != 366 {
		t.Errorf("Round2(365.999) = %v, want 366", got)
	}
	if got := Round2(12.345); got != 12.35 && got != 12.34 {
		t.Errorf("Round2(12.345) = %v", got)
	}
}
