package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"screen-server/internal/domain"
)

// OperatorCache mantiene una copia de los operadores para no consultar la base
// en cada asignacion. Un cache vacio no es autoritativo.
type OperatorCache interface {
	Put(ctx context.Context, op domain.Operator) error
	// Available devuelve operadores online (asignables).
	Available(ctx context.Context) ([]domain.Operator, error)
	// Online devuelve operadores online o busy.
	Online(ctx context.Context) ([]domain.Operator, error)
	// Warm reemplaza el contenido completo del cache.
	Warm(ctx context.Context, ops []domain.Operator) error
}

type memoryOperatorCache struct {
	mu    sync.RWMutex
	items map[string]domain.Operator
}

func NewMemoryOperatorCache() OperatorCache {
	return &memoryOperatorCache{items: make(map[string]domain.Operator)}
}

func (c *memoryOperatorCache) Put(_ context.Context, op domain.Operator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[op.ID] = op
	return nil
}

func (c *memoryOperatorCache) Available(_ context.Context) ([]domain.Operator, error) {
	return c.filter(func(s domain.OperatorStatus) bool { return s == domain.OperatorStatusOnline }), nil
}

func (c *memoryOperatorCache) Online(_ context.Context) ([]domain.Operator, error) {
	return c.filter(domain.OperatorStatus.RefreshesActivity), nil
}

func (c *memoryOperatorCache) Warm(_ context.Context, ops []domain.Operator) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]domain.Operator, len(ops))
	for _, op := range ops {
		c.items[op.ID] = op
	}
	return nil
}

func (c *memoryOperatorCache) filter(keep func(domain.OperatorStatus) bool) []domain.Operator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []domain.Operator{}
	for _, op := range c.items {
		if keep(op.Status) {
			out = append(out, op)
		}
	}
	sortOperators(out)
	return out
}

const (
	redisOperatorPutScript = `
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] == "offline" then
  redis.call("SREM", KEYS[2], ARGV[1])
else
  redis.call("SADD", KEYS[2], ARGV[1])
end
if ARGV[3] == "online" then
  redis.call("SADD", KEYS[3], ARGV[1])
else
  redis.call("SREM", KEYS[3], ARGV[1])
end
return 1
`
	redisOperatorReadScript = `
local ids = redis.call("SMEMBERS", KEYS[2])
if #ids == 0 then
  return {}
end
return redis.call("HMGET", KEYS[1], unpack(ids))
`
	redisOperatorWarmScript = `
redis.call("DEL", KEYS[1], KEYS[2], KEYS[3])
for i = 1, #ARGV, 3 do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
  if ARGV[i + 2] ~= "offline" then
    redis.call("SADD", KEYS[2], ARGV[i])
  end
  if ARGV[i + 2] == "online" then
    redis.call("SADD", KEYS[3], ARGV[i])
  end
end
return #ARGV / 3
`
)

type redisOperatorCache struct {
	client       redisEvaler
	hashKey      string
	onlineKey    string
	availableKey string
	timeout      time.Duration
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

func NewRedisOperatorCache(client *redis.Client) OperatorCache {
	if client == nil {
		return nil
	}
	return newRedisOperatorCache(client)
}

func newRedisOperatorCache(client redisEvaler) *redisOperatorCache {
	return &redisOperatorCache{
		client:       client,
		hashKey:      "operators:cache",
		onlineKey:    "operators:online",
		availableKey: "operators:available",
		timeout:      500 * time.Millisecond,
	}
}

func (c *redisOperatorCache) keys() []string {
	return []string{c.hashKey, c.onlineKey, c.availableKey}
}

func (c *redisOperatorCache) Put(ctx context.Context, op domain.Operator) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Eval(ctx, redisOperatorPutScript, c.keys(), op.ID, string(payload), string(op.Status)).Err()
}

func (c *redisOperatorCache) Available(ctx context.Context) ([]domain.Operator, error) {
	return c.read(ctx, c.availableKey)
}

func (c *redisOperatorCache) Online(ctx context.Context) ([]domain.Operator, error) {
	return c.read(ctx, c.onlineKey)
}

func (c *redisOperatorCache) Warm(ctx context.Context, ops []domain.Operator) error {
	args := make([]interface{}, 0, len(ops)*3)
	for _, op := range ops {
		payload, err := json.Marshal(op)
		if err != nil {
			return err
		}
		args = append(args, op.ID, string(payload), string(op.Status))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Eval(ctx, redisOperatorWarmScript, c.keys(), args...).Err()
}

func (c *redisOperatorCache) read(ctx context.Context, setKey string) ([]domain.Operator, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	values, err := c.client.Eval(ctx, redisOperatorReadScript, []string{c.hashKey, setKey}).Slice()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Operator, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// miembro del set sin entrada en el hash
			continue
		}
		var op domain.Operator
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("decode cached operator: %w", err)
		}
		out = append(out, op)
	}
	sortOperators(out)
	return out, nil
}

// sortOperators deja el mismo orden que el repositorio: nombre y luego id.
func sortOperators(ops []domain.Operator) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Name != ops[j].Name {
			return ops[i].Name < ops[j].Name
		}
		return ops[i].ID < ops[j].ID
	})
}
