package process

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Minute
	probeWaitDelay   = 500 * time.Millisecond
)

// LivenessCache remembers commands which passed a probe. Failures are never
// stored, so an unavailable command is probed again next time.
type LivenessCache struct {
	mx  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

var defaultCache = NewLivenessCache(defaultCacheSize, defaultCacheTTL)

// DefaultLivenessCache is shared by executors configured without a cache.
func DefaultLivenessCache() *LivenessCache {
	return defaultCache
}

// NewLivenessCache keeps at most size entries for ttl. A non-positive ttl
// keeps entries until they are evicted.
func NewLivenessCache(size int, ttl time.Duration) *LivenessCache {
	if size < 1 {
		size = defaultCacheSize
	}
	return &LivenessCache{
		lru: lru.New(size),
		ttl: ttl,
		now: time.Now,
	}
}

func cacheKey(tokens []string, args []string) string {
	return strings.Join(append(append([]string(nil), tokens...), args...), " ")
}

// Alive reports whether key passed a probe within the ttl.
func (c *LivenessCache) Alive(key string) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	if c.ttl > 0 && c.now().After(v.(time.Time).Add(c.ttl)) {
		c.lru.Remove(key)
		return false
	}
	return true
}

func (c *LivenessCache) markAlive(key string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.lru.Add(key, c.now())
}

func (c *LivenessCache) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.lru.Len()
}

// Probe runs tokens followed by args with stdin closed and reports whether
// it exited with zero within timeout. Successful probes are cached.
func (c *LivenessCache) Probe(ctx context.Context, timeout time.Duration, tokens []string, args ...string) bool {
	if len(tokens) == 0 {
		return false
	}
	key := cacheKey(tokens, args)
	if c.Alive(key) {
		return true
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	argv := append(append([]string(nil), tokens[1:]...), args...)
	cmd := exec.CommandContext(ctx, tokens[0], argv...)
	cmd.WaitDelay = probeWaitDelay
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		slog.DebugContext(ctx, "probe failed", "probe", key, "elapsed", time.Since(start), "error", err)
		return false
	}
	slog.DebugContext(ctx, "probe succeeded", "probe", key, "elapsed", time.Since(start))
	c.markAlive(key)
	return true
}
