package guard

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func always(*http.Request) bool { return true }

func TestRegistry_OrderAndReplace(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"office", "scanners", "flood"} {
		if errRegister := registry.Register(Hazard{Name: name, Type: HazardThrottle, Rule: always}); errRegister != nil {
			t.Fatalf("register %s: %v", name, errRegister)
		}
	}
	replacement := Hazard{Name: "scanners", Type: HazardBlacklist, Rule: always}
	if errRegister := registry.Register(replacement); errRegister != nil {
		t.Fatalf("replace: %v", errRegister)
	}

	all := registry.All()
	if len(all) != 3 || registry.Len() != 3 {
		t.Fatalf("expected 3 hazards, got %d", len(all))
	}
	want := []string{"office", "scanners", "flood"}
	for i, h := range all {
		if h.Name != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], h.Name)
		}
	}
	if all[1].Type != HazardBlacklist {
		t.Fatalf("expected replaced hazard type blacklist, got %s", all[1].Type)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		hazard Hazard
	}{
		{"empty name", Hazard{Type: HazardThrottle, Rule: always}},
		{"unknown type", Hazard{Name: "x", Type: "tarpit", Rule: always}},
		{"deflect-only type", Hazard{Name: "x", Type: HazardMethodNotAllowed, Rule: always}},
		{"nil rule", Hazard{Name: "x", Type: HazardThrottle}},
		{"attack without timeout", Hazard{Name: "x", Type: HazardAttack, Rule: always, Options: Options{BucketSize: 1, BucketLeak: 1}}},
		{"negative size", Hazard{Name: "x", Type: HazardThrottle, Rule: always, Options: Options{BucketSize: -1}}},
		{"negative timeout", Hazard{Name: "x", Type: HazardThrottle, Rule: always, Options: Options{Timeout: -time.Second}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			registry := NewRegistry()
			errRegister := registry.Register(tc.hazard)
			var invalid *InvalidHazardError
			if !errors.As(errRegister, &invalid) {
				t.Fatalf("expected InvalidHazardError, got %v", errRegister)
			}
			if registry.Len() != 0 {
				t.Fatalf("expected nothing registered")
			}
		})
	}
}

func TestParseHazardType(t *testing.T) {
	if got, ok := ParseHazardType(" Throttle "); !ok || got != HazardThrottle {
		t.Fatalf("expected throttle, got %q ok=%v", got, ok)
	}
	if _, ok := ParseHazardType("method not allowed"); ok {
		t.Fatalf("method_not_allowed must not be registrable")
	}
}

func TestHazard_TTLs(t *testing.T) {
	h := Hazard{Options: Options{BucketSize: 10, BucketLeak: 2, Timeout: time.Minute}}
	if !h.HasBucket() || !h.CanBlock() {
		t.Fatalf("expected bucket and blocking")
	}
	if ttl := h.BucketTTL(); ttl != 10*time.Second {
		t.Fatalf("expected bucket ttl 10s, got %v", ttl)
	}
	if ttl := h.BlockageTTL(); ttl != 2*time.Minute {
		t.Fatalf("expected blockage ttl 2m, got %v", ttl)
	}
	if (Hazard{Options: Options{BucketSize: 10}}).HasBucket() {
		t.Fatalf("size without leak is not a bucket")
	}
}
