package entries

import (
	"context"
	"errors"
	"time"

	"github.com/af-corp/hass-agent/internal/config"
)

// ErrNotFound is returned when no config entry has the requested id.
var ErrNotFound = errors.New("config entry not found")

const maskedKey = "********"

// Data holds the fields collected when an entry is created. They are
// immutable afterwards.
type Data struct {
	Name         string  `json:"name"`
	APIKey       string  `json:"api_key"`
	BaseURL      string  `json:"base_url"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	Language     string  `json:"language"`
	SystemPrompt string  `json:"system_prompt"`
}

// Options are the fields editable after creation. Nil means "use the value
// from Data".
type Options struct {
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Entry is one configured agent as persisted by a Store.
type Entry struct {
	ID        string    `json:"id"`
	Data      Data      `json:"data"`
	Options   Options   `json:"options"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists config entries.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (*Entry, error)
	Create(ctx context.Context, data Data) (*Entry, error)
	UpdateOptions(ctx context.Context, id string, opts Options) (*Entry, error)
	Delete(ctx context.Context, id string) error
}

// Settings merges options over data. Service defaults are applied later by
// the agent registry.
func (e Entry) Settings() config.Settings {
	s := config.Settings{
		Name:         e.Data.Name,
		EndpointURL:  e.Data.BaseURL,
		APIKey:       e.Data.APIKey,
		Model:        e.Data.Model,
		MaxTokens:    e.Data.MaxTokens,
		Temperature:  e.Data.Temperature,
		Language:     e.Data.Language,
		SystemPrompt: e.Data.SystemPrompt,
	}
	if e.Options.SystemPrompt != nil {
		s.SystemPrompt = *e.Options.SystemPrompt
	}
	if e.Options.MaxTokens != nil {
		s.MaxTokens = *e.Options.MaxTokens
	}
	if e.Options.Temperature != nil {
		s.Temperature = *e.Options.Temperature
	}
	return s
}

// Masked returns a copy safe to show to clients.
func (e Entry) Masked() Entry {
	if e.Data.APIKey != "" {
		e.Data.APIKey = maskedKey
	}
	return e
}

// Merge applies the non-nil fields of next over o.
func (o Options) Merge(next Options) Options {
	if next.SystemPrompt != nil {
		o.SystemPrompt = next.SystemPrompt
	}
	if next.MaxTokens != nil {
		o.MaxTokens = next.MaxTokens
	}
	if next.Temperature != nil {
		o.Temperature = next.Temperature
	}
	return o
}

// DataFromSeed converts a startup seed into entry data, applying the
// config-flow defaults.
func DataFromSeed(seed config.EntrySeed) Data {
	d := Data{
		Name:         seed.Name,
		APIKey:       seed.APIKey,
		BaseURL:      seed.BaseURL,
		Model:        seed.Model,
		MaxTokens:    seed.MaxTokens,
		Language:     seed.Language,
		SystemPrompt: seed.SystemPrompt,
	}
	if seed.Temperature != nil {
		d.Temperature = *seed.Temperature
	} else {
		d.Temperature = config.DefaultTemperature
	}
	return d.WithDefaults()
}

// WithDefaults fills empty fields with the config-flow defaults. Temperature
// is left alone since zero is a valid value.
func (d Data) WithDefaults() Data {
	if d.Name == "" {
		d.Name = config.DefaultName
	}
	if d.APIKey == "" {
		d.APIKey = config.DefaultAPIKey
	}
	if d.BaseURL == "" {
		d.BaseURL = config.DefaultBaseURL
	}
	if d.Model == "" {
		d.Model = config.DefaultModel
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = config.DefaultMaxTokens
	}
	if d.Language == "" {
		d.Language = config.DefaultLanguage
	}
	return d
}

// Validate checks data and options the way setup will.
func Validate(d Data, o Options) error {
	e := Entry{Data: d, Options: o}
	return e.Settings().WithDefaults(config.AgentDefaults{}).Validate()
}
