package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoundRobinCursor entrega un contador monotono compartido para la estrategia round_robin.
type RoundRobinCursor interface {
	Next(ctx context.Context) (uint64, error)
}

type memoryCursor struct {
	n atomic.Uint64
}

func NewMemoryCursor() RoundRobinCursor {
	return &memoryCursor{}
}

func (c *memoryCursor) Next(_ context.Context) (uint64, error) {
	return c.n.Add(1), nil
}

// El contador no expira: un TTL lo reiniciaria y romperia la rotacion.
const redisCursorNextScript = `return redis.call("INCR", KEYS[1])`

type redisCursor struct {
	client   redisEvaler
	key      string
	fallback RoundRobinCursor
	logger   *zap.Logger
}

// NewRedisCursor comparte el cursor entre instancias. Si Redis falla usa un
// contador local.
func NewRedisCursor(client *redis.Client, logger *zap.Logger) RoundRobinCursor {
	if client == nil {
		return NewMemoryCursor()
	}
	return newRedisCursor(client, logger)
}

func newRedisCursor(client redisEvaler, logger *zap.Logger) *redisCursor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisCursor{
		client:   client,
		key:      "assignment:rr:cursor",
		fallback: NewMemoryCursor(),
		logger:   logger,
	}
}

func (c *redisCursor) Next(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := c.client.Eval(ctx, redisCursorNextScript, []string{c.key}).Int64()
	if err != nil || n <= 0 {
		c.logger.Warn("round robin cursor fallback", zap.Error(err))
		return c.fallback.Next(ctx)
	}
	return uint64(n), nil
}
