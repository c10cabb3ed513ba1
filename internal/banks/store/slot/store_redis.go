package slot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kore/internal/banks/models"
	"kore/pkg/platform/sentinel"
)

// slotKey holds the serialized entry. No redis expiry is set: the
// stale-fallback path needs expired values to survive, so freshness is
// judged from fetched_at, never from key TTL.
const slotKey = "kore:banks:slot"

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Load(ctx context.Context) (*models.Entry, error) {
	raw, err := s.client.Get(ctx, slotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bank cache slot: %w", err)
	}
	var entry models.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode bank cache slot: %w", err)
	}
	return &entry, nil
}

func (s *Redis) Save(ctx context.Context, entry *models.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode bank cache slot: %w", err)
	}
	if err := s.client.Set(ctx, slotKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("save bank cache slot: %w", err)
	}
	return nil
}
