package hass

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/af-corp/hass-agent/internal/config"
)

func TestClientStates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer llat" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen"}},
			{"entity_id":"switch.fan","state":"off","attributes":{}},
			{"entity_id":42},
			{"state":"on"}
		]`)
	}))
	defer server.Close()

	c := NewClient(config.HassConfig{URL: server.URL + "/", Token: "llat", Timeout: time.Second})
	states, err := c.States(context.Background())
	if err != nil {
		t.Fatalf("States failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 readable states, got %d: %+v", len(states), states)
	}
	if states[0].FriendlyName() != "Kitchen" {
		t.Errorf("expected friendly name Kitchen, got %s", states[0].FriendlyName())
	}
	if states[1].FriendlyName() != "switch.fan" {
		t.Errorf("expected entity id fallback, got %s", states[1].FriendlyName())
	}
}

func TestClientStates_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(config.HassConfig{URL: server.URL, Timeout: time.Second})
	if _, err := c.States(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestStateDomain(t *testing.T) {
	tests := []struct {
		id     string
		domain string
	}{
		{"light.kitchen", "light"},
		{"binary_sensor.door", "binary_sensor"},
		{"nodomain", ""},
	}
	for _, tt := range tests {
		if got := (State{EntityID: tt.id}).Domain(); got != tt.domain {
			t.Errorf("Domain(%q) = %q, want %q", tt.id, got, tt.domain)
		}
	}
}
