package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/hass-agent/internal/config"
)

// State is one entity as reported by the Home Assistant states API.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// Domain returns the part of the entity id before the first dot.
func (s State) Domain() string {
	domain, _, ok := strings.Cut(s.EntityID, ".")
	if !ok {
		return ""
	}
	return domain
}

// FriendlyName returns the friendly_name attribute, or the entity id when it
// is missing.
func (s State) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// StateReader lists the host's current entity states.
type StateReader interface {
	States(ctx context.Context) ([]State, error)
}

// Client reads entity states from the Home Assistant REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(cfg config.HassConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// States fetches GET /api/states. Entries that cannot be decoded or have no
// entity id are skipped.
func (c *Client) States(ctx context.Context) ([]State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("create states request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("home assistant returned status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}

	states := make([]State, 0, len(raw))
	skipped := 0
	for _, r := range raw {
		var st State
		if err := json.Unmarshal(r, &st); err != nil || st.EntityID == "" {
			skipped++
			continue
		}
		states = append(states, st)
	}
	if skipped > 0 {
		slog.Debug("skipped unreadable entity states", "count", skipped)
	}
	return states, nil
}
