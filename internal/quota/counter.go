package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InProcessCounter keeps windows in memory, suitable for a single process.
type InProcessCounter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewInProcessCounter creates an empty counter.
func NewInProcessCounter() *InProcessCounter {
	return &InProcessCounter{windows: make(map[string]*window)}
}

// Incr implements Counter.
func (c *InProcessCounter) Incr(_ context.Context, key string, interval time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	w, ok := c.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(interval)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// incrScript increments and arms the window expiry atomically, so the first
// caller in a window sets its length.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisCounter shares windows across processes via Redis.
type RedisCounter struct {
	client redis.UniversalClient
}

// NewRedisCounter wraps an existing Redis client.
func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr implements Counter.
func (c *RedisCounter) Incr(ctx context.Context, key string, interval time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, c.client, []string{key}, interval.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("quota incr %s: %w", key, err)
	}
	return n, nil
}
