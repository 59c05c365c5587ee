package hass

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeReader struct {
	states []State
	err    error
	calls  int
}

func (f *fakeReader) States(context.Context) ([]State, error) {
	f.calls++
	return f.states, f.err
}

type denyDomain string

func (d denyDomain) Exposed(_ context.Context, st State) bool {
	return st.Domain() != string(d)
}

func st(id, state string) State {
	return State{EntityID: id, State: state, Attributes: map[string]any{}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSnapshot_CountsAndOrder(t *testing.T) {
	states := []State{
		st("zwave.node", "ready"),
		st("switch.fan", "off"),
		st("light.b", "on"),
		st("light.a", "on"),
		st("light.c", "off"),
		st("sensor.temp", "21"),
		st("alarm.x", "on"),
		{EntityID: "broken", State: "on"},
	}

	snap := BuildSnapshot(context.Background(), states, nil, 10)

	if snap.Total != 7 {
		t.Errorf("expected 7 entities, got %d", snap.Total)
	}
	wantOrder := []string{"light", "switch", "sensor", "alarm", "zwave"}
	if len(snap.Domains) != len(wantOrder) {
		t.Fatalf("expected %d domains, got %+v", len(wantOrder), snap.Domains)
	}
	for i, d := range wantOrder {
		if snap.Domains[i].Domain != d {
			t.Errorf("domain %d = %s, want %s", i, snap.Domains[i].Domain, d)
		}
	}
	if snap.Domains[0].Total != 3 || snap.Domains[0].Active != 2 {
		t.Errorf("unexpected light counts: %+v", snap.Domains[0])
	}
	if len(snap.Notable) != 2 || snap.Notable[0].EntityID != "light.a" {
		t.Errorf("unexpected notable list: %+v", snap.Notable)
	}
}

func TestBuildSnapshot_NotableLimit(t *testing.T) {
	states := []State{st("light.a", "on"), st("light.b", "on"), st("light.c", "on")}

	if got := BuildSnapshot(context.Background(), states, nil, 2).Notable; len(got) != 2 {
		t.Errorf("expected 2 notable entities, got %d", len(got))
	}
	if got := BuildSnapshot(context.Background(), states, nil, 0).Notable; len(got) != 0 {
		t.Errorf("expected notable list disabled, got %d", len(got))
	}
}

func TestBuildSnapshot_Exposure(t *testing.T) {
	states := []State{st("light.a", "on"), st("lock.door", "locked")}
	snap := BuildSnapshot(context.Background(), states, denyDomain("lock"), 5)

	if snap.Total != 1 || snap.Hidden != 1 {
		t.Errorf("expected 1 exposed and 1 hidden, got total=%d hidden=%d", snap.Total, snap.Hidden)
	}
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		domain, state string
		active        bool
	}{
		{"light", "on", true},
		{"light", "off", false},
		{"light", "unavailable", false},
		{"cover", "open", true},
		{"cover", "closed", false},
		{"media_player", "playing", true},
		{"media_player", "idle", false},
		{"climate", "heat", true},
		{"climate", "off", false},
		{"person", "home", true},
		{"person", "not_home", false},
		{"climate", "unknown", false},
	}
	for _, tt := range tests {
		if got := IsActive(tt.domain, tt.state); got != tt.active {
			t.Errorf("IsActive(%s, %s) = %v, want %v", tt.domain, tt.state, got, tt.active)
		}
	}
}

func TestSummary_EmptyRegistry(t *testing.T) {
	snap := BuildSnapshot(context.Background(), nil, nil, 10)

	for _, lang := range []string{"en", "de", "fr"} {
		got := snap.Summary(lang)
		if strings.TrimSpace(got) == "" {
			t.Errorf("summary for %s must not be empty", lang)
		}
	}
	if got := snap.Summary("en"); got != summaryLabels["en"].noDevices {
		t.Errorf("unexpected empty summary: %q", got)
	}
}

func TestSummary_Localized(t *testing.T) {
	snap := BuildSnapshot(context.Background(), []State{
		{EntityID: "light.kitchen", State: "on", Attributes: map[string]any{"friendly_name": "Kitchen"}},
		st("light.hall", "off"),
	}, nil, 10)

	en := snap.Summary("en")
	for _, want := range []string{"Device overview:", "- Lights: 2 (1 on)", "Kitchen (light.kitchen): on", "Total: 2 entities"} {
		if !strings.Contains(en, want) {
			t.Errorf("english summary missing %q:\n%s", want, en)
		}
	}

	de := snap.Summary("de")
	for _, want := range []string{"Geräte-Übersicht:", "- Lichter: 2 (davon 1 an)", "Gesamt: 2 Entitäten"} {
		if !strings.Contains(de, want) {
			t.Errorf("german summary missing %q:\n%s", want, de)
		}
	}
}

func TestBuilder_ReadFailureIsSwallowed(t *testing.T) {
	b := NewBuilder(&fakeReader{err: errors.New("connection refused")}, nil, 10, discardLogger())
	snap := b.Build(context.Background())

	if snap.Readable {
		t.Error("snapshot should be marked unreadable")
	}
	if snap.Summary("en") == "" {
		t.Error("summary must not be empty")
	}
}

func TestBuilder_ReadsFreshEveryTime(t *testing.T) {
	r := &fakeReader{states: []State{st("light.a", "off")}}
	b := NewBuilder(r, nil, 10, discardLogger())

	if got := b.Build(context.Background()).Domains[0].Active; got != 0 {
		t.Fatalf("expected 0 active, got %d", got)
	}
	r.states = []State{st("light.a", "on")}
	if got := b.Build(context.Background()).Domains[0].Active; got != 1 {
		t.Errorf("expected fresh state with 1 active, got %d", got)
	}
	if r.calls != 2 {
		t.Errorf("expected 2 reads, got %d", r.calls)
	}
}

func TestBuilder_SetReader(t *testing.T) {
	b := NewBuilder(&fakeReader{}, nil, 10, discardLogger())
	b.SetReader(&fakeReader{states: []State{st("switch.x", "on")}})

	if got := b.Build(context.Background()).Total; got != 1 {
		t.Errorf("expected new reader to be used, got total %d", got)
	}
}
