package chain

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Block timestamps never change once a block is final, so cached entries
// only leave by eviction.
const defaultBlockTimeCacheSize = 4096

// BlockTimeCache remembers block timestamps across scoring calls.
type BlockTimeCache interface {
	Get(ctx context.Context, blockNum uint64) (time.Time, bool)
	Set(ctx context.Context, blockNum uint64, ts time.Time)
}

// -----------------------------------------------------------------------------
// In-memory LRU
// -----------------------------------------------------------------------------

type blockTimeEntry struct {
	block uint64
	ts    time.Time
}

// MemoryBlockTimes is a bounded LRU cache. Safe for concurrent use.
type MemoryBlockTimes struct {
	mu      sync.Mutex
	max     int
	entries map[uint64]*list.Element
	ordered *list.List
}

// NewMemoryBlockTimes creates an LRU holding at most max entries.
func NewMemoryBlockTimes(max int) *MemoryBlockTimes {
	if max <= 0 {
		max = defaultBlockTimeCacheSize
	}
	return &MemoryBlockTimes{
		max:     max,
		entries: make(map[uint64]*list.Element, max),
		ordered: list.New(),
	}
}

func (c *MemoryBlockTimes) Get(_ context.Context, blockNum uint64) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[blockNum]
	if !ok {
		return time.Time{}, false
	}
	c.ordered.MoveToFront(el)
	return el.Value.(*blockTimeEntry).ts, true
}

func (c *MemoryBlockTimes) Set(_ context.Context, blockNum uint64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[blockNum]; ok {
		el.Value.(*blockTimeEntry).ts = ts
		c.ordered.MoveToFront(el)
		return
	}
	c.entries[blockNum] = c.ordered.PushFront(&blockTimeEntry{block: blockNum, ts: ts})
	for c.ordered.Len() > c.max {
		back := c.ordered.Back()
		c.ordered.Remove(back)
		delete(c.entries, back.Value.(*blockTimeEntry).block)
	}
}

// Len returns the number of cached blocks.
func (c *MemoryBlockTimes) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordered.Len()
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

// RedisBlockTimes shares block timestamps between service replicas.
// Failures degrade to cache misses.
type RedisBlockTimes struct {
	client *redis.Client
	prefix string
}

// NewRedisBlockTimes connects to the Redis instance at url
// (redis://[:password@]host:port/db).
func NewRedisBlockTimes(url string) (*RedisBlockTimes, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBlockTimes{client: redis.NewClient(opts), prefix: "oro:blocktime:"}, nil
}

// NewRedisBlockTimesFromClient wraps an existing client.
func NewRedisBlockTimesFromClient(client *redis.Client) *RedisBlockTimes {
	return &RedisBlockTimes{client: client, prefix: "oro:blocktime:"}
}

func (r *RedisBlockTimes) key(blockNum uint64) string {
	return r.prefix + strconv.FormatUint(blockNum, 10)
}

func (r *RedisBlockTimes) Get(ctx context.Context, blockNum uint64) (time.Time, bool) {
	v, err := r.client.Get(ctx, r.key(blockNum)).Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(v, 0).UTC(), true
}

func (r *RedisBlockTimes) Set(ctx context.Context, blockNum uint64, ts time.Time) {
	_ = r.client.Set(ctx, r.key(blockNum), ts.Unix(), 0).Err()
}

// Ping checks connectivity.
func (r *RedisBlockTimes) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisBlockTimes) Close() error {
	return r.client.Close()
}
