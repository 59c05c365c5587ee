package hass

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// WellKnownDomains are summarised first, in this order.
var WellKnownDomains = []string{
	"light",
	"switch",
	"sensor",
	"binary_sensor",
	"climate",
	"cover",
	"media_player",
	"camera",
	"scene",
	"automation",
	"script",
	"person",
	"zone",
}

// DomainCount is the number of entities in a domain and how many of them are
// currently on or active.
type DomainCount struct {
	Domain string `json:"domain"`
	Total  int    `json:"total"`
	Active int    `json:"active"`
}

type EntityState struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name"`
	State        string `json:"state"`
}

// Snapshot summarises the host's entities at one instant.
type Snapshot struct {
	Domains  []DomainCount `json:"domains"`
	Notable  []EntityState `json:"notable"`
	Total    int           `json:"total"`
	Hidden   int           `json:"hidden"`
	Readable bool          `json:"readable"`
}

// Exposer decides whether an entity may be shown to the model.
type Exposer interface {
	Exposed(ctx context.Context, st State) bool
}

// IsActive reports whether an entity state counts as on/active for its domain.
func IsActive(domain, state string) bool {
	switch state {
	case "", "unavailable", "unknown":
		return false
	}
	switch domain {
	case "cover":
		return state == "open" || state == "opening" || state == "closing"
	case "media_player":
		return state == "playing" || state == "on" || state == "paused" || state == "buffering"
	case "climate", "water_heater":
		return state != "off"
	case "person", "device_tracker":
		return state == "home"
	case "lock":
		return state == "unlocked" || state == "open"
	case "alarm_control_panel":
		return state != "disarmed"
	case "vacuum":
		return state == "cleaning" || state == "returning"
	case "camera":
		return state == "recording" || state == "streaming"
	default:
		return state == "on"
	}
}

// notableDomains contribute to the bounded notable-entity list when active.
var notableDomains = map[string]bool{
	"light":        true,
	"switch":       true,
	"fan":          true,
	"media_player": true,
	"cover":        true,
	"climate":      true,
	"lock":         true,
}

// BuildSnapshot aggregates states. Entities the exposer rejects are counted
// as hidden and otherwise ignored. limit bounds the notable list; zero
// disables it.
func BuildSnapshot(ctx context.Context, states []State, exposer Exposer, limit int) Snapshot {
	counts := make(map[string]*DomainCount)
	var notable []EntityState
	snap := Snapshot{Readable: true}

	for _, st := range states {
		domain := st.Domain()
		if domain == "" {
			continue
		}
		if exposer != nil && !exposer.Exposed(ctx, st) {
			snap.Hidden++
			continue
		}
		snap.Total++

		dc, ok := counts[domain]
		if !ok {
			dc = &DomainCount{Domain: domain}
			counts[domain] = dc
		}
		dc.Total++
		active := IsActive(domain, st.State)
		if active {
			dc.Active++
		}
		if active && notableDomains[domain] {
			notable = append(notable, EntityState{
				EntityID:     st.EntityID,
				FriendlyName: st.FriendlyName(),
				State:        st.State,
			})
		}
	}

	for _, d := range WellKnownDomains {
		if dc, ok := counts[d]; ok {
			snap.Domains = append(snap.Domains, *dc)
			delete(counts, d)
		}
	}
	rest := make([]string, 0, len(counts))
	for d := range counts {
		rest = append(rest, d)
	}
	sort.Strings(rest)
	for _, d := range rest {
		snap.Domains = append(snap.Domains, *counts[d])
	}

	sort.Slice(notable, func(i, j int) bool { return notable[i].EntityID < notable[j].EntityID })
	if limit <= 0 {
		notable = nil
	} else if len(notable) > limit {
		notable = notable[:limit]
	}
	snap.Notable = notable

	return snap
}

// Builder produces a fresh Snapshot from the host on every call. It never
// caches: each turn must reflect current state.
type Builder struct {
	mu      sync.RWMutex
	reader  StateReader
	exposer Exposer
	limit   int
	logger  *slog.Logger
}

func NewBuilder(reader StateReader, exposer Exposer, limit int, logger *slog.Logger) *Builder {
	return &Builder{reader: reader, exposer: exposer, limit: limit, logger: logger}
}

// SetReader swaps the state source, e.g. after the Home Assistant URL or
// token changed.
func (b *Builder) SetReader(reader StateReader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reader = reader
}

func (b *Builder) SetLimit(limit int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = limit
}

// Build never fails. A failed read yields an unreadable, empty snapshot.
func (b *Builder) Build(ctx context.Context) Snapshot {
	b.mu.RLock()
	reader, exposer, limit := b.reader, b.exposer, b.limit
	b.mu.RUnlock()

	if reader == nil {
		return Snapshot{}
	}
	states, err := reader.States(ctx)
	if err != nil {
		b.logger.Warn("failed to read home assistant states", "error", err)
		return Snapshot{}
	}
	return BuildSnapshot(ctx, states, exposer, limit)
}
