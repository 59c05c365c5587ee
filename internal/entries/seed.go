package entries

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/af-corp/hass-agent/internal/config"
)

// Seed creates an entry for every seed whose name is not yet taken. It
// returns the number of entries created.
func Seed(ctx context.Context, store Store, seeds []config.EntrySeed, logger *slog.Logger) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}
	existing, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, e := range existing {
		names[e.Data.Name] = true
	}

	created := 0
	for _, seed := range seeds {
		data := DataFromSeed(seed)
		if names[data.Name] {
			continue
		}
		if err := Validate(data, Options{}); err != nil {
			logger.Warn("skipping invalid entry seed", "name", data.Name, "error", err)
			continue
		}
		e, err := store.Create(ctx, data)
		if err != nil {
			return created, fmt.Errorf("create entry %q: %w", data.Name, err)
		}
		names[data.Name] = true
		created++
		logger.Info("seeded config entry", "entry_id", e.ID, "name", data.Name)
	}
	return created, nil
}
