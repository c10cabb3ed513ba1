// Package banks is the facade over the bank list cache: one slot,
// TTL-bounded freshness, and stale fallback once populated.
package banks

import (
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"kore/internal/banks/handler"
	"kore/internal/banks/metrics"
	"kore/internal/banks/models"
	"kore/internal/banks/service"
	"kore/internal/banks/store/slot"
	"kore/internal/onepipe"
)

type (
	Service   = service.Service
	Handler   = handler.Handler
	Bank      = models.Bank
	Entry     = models.Entry
	List      = models.List
	Metrics   = metrics.Metrics
	SlotStore = service.Store
)

func NewService(store service.Store, provider service.Provider, codec *onepipe.Codec, opts ...service.Option) *Service {
	return service.New(store, provider, codec, opts...)
}

func NewHandler(s handler.Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}

func NewMemorySlot() *slot.InMemory {
	return slot.NewInMemory()
}

func NewRedisSlot(client *goredis.Client) *slot.Redis {
	return slot.NewRedis(client)
}

func NewMetrics() *Metrics {
	return metrics.New()
}

func WithLogger(logger *slog.Logger) service.Option { return service.WithLogger(logger) }

func WithTTL(ttl time.Duration) service.Option { return service.WithTTL(ttl) }

func WithMetrics(m *Metrics) service.Option { return service.WithMetrics(m) }
