package entries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "hass-agent:entry:"

// PostgresStore implements Store with PostgreSQL and an optional Redis
// read-through cache for single-entry lookups.
type PostgresStore struct {
	db     *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

func NewPostgresStore(db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, redis: rdb, logger: logger}
}

const selectColumns = `id, data, options, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var id uuid.UUID
	var dataJSON, optionsJSON []byte
	if err := row.Scan(&id, &dataJSON, &optionsJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = id.String()
	if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
		return nil, fmt.Errorf("decode data of entry %s: %w", e.ID, err)
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &e.Options); err != nil {
			return nil, fmt.Errorf("decode options of entry %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM config_entries ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query config_entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config_entries: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config_entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	// Check Redis cache first
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+id).Bytes()
		if err == nil {
			var e Entry
			if err := json.Unmarshal(cached, &e); err == nil {
				return &e, nil
			}
		}
	}

	e, err := scanEntry(s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM config_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query config entry %s: %w", id, err)
	}

	if s.redis != nil {
		data, err := json.Marshal(e)
		if err == nil {
			if err := s.redis.Set(ctx, redisKeyPrefix+id, data, redisCacheTTL).Err(); err != nil {
				s.logger.Warn("failed to cache config entry", "entry_id", id, "error", err)
			}
		}
	}

	return e, nil
}

func (s *PostgresStore) Create(ctx context.Context, data Data) (*Entry, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode entry data: %w", err)
	}
	e, err := scanEntry(s.db.QueryRow(ctx, `
		INSERT INTO config_entries (id, name, data, options)
		VALUES ($1, $2, $3, '{}'::jsonb)
		RETURNING `+selectColumns,
		uuid.New(), data.Name, dataJSON,
	))
	if err != nil {
		return nil, fmt.Errorf("insert config entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) UpdateOptions(ctx context.Context, id string, opts Options) (*Entry, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	optionsJSON, err := json.Marshal(current.Options.Merge(opts))
	if err != nil {
		return nil, fmt.Errorf("encode entry options: %w", err)
	}

	e, err := scanEntry(s.db.QueryRow(ctx, `
		UPDATE config_entries SET options = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+selectColumns,
		id, optionsJSON,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update config entry %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	return e, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM config_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete config entry %s: %w", id, err)
	}
	s.invalidate(ctx, id)
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) invalidate(ctx context.Context, id string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		s.logger.Warn("failed to invalidate cached config entry", "entry_id", id, "error", err)
	}
}
