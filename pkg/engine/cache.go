package engine

import (
	"sync"
	"time"

	"github.com/HatiCode/vigil/pkg/models"
)

// forecastCache keeps the latest forecast per metric. Entries older than the
// TTL are treated as missing and dropped on the next read; nothing runs in
// the background.
type forecastCache struct {
	mu      sync.RWMutex
	results map[string]models.Result
	ttl     time.Duration
	now     func() time.Time
}

func newForecastCache(ttl time.Duration) *forecastCache {
	return &forecastCache{
		results: make(map[string]models.Result),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *forecastCache) put(res models.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[res.Metric] = res
}

func (c *forecastCache) stale(res models.Result) bool {
	return c.ttl > 0 && c.now().Sub(res.GeneratedAt) > c.ttl
}

// get returns the cached forecast for metric if it is still fresh.
func (c *forecastCache) get(metric string) (models.Result, bool) {
	c.mu.RLock()
	res, found := c.results[metric]
	c.mu.RUnlock()
	if !found {
		return models.Result{}, false
	}
	if c.stale(res) {
		c.mu.Lock()
		if cur, ok := c.results[metric]; ok && c.stale(cur) {
			delete(c.results, metric)
		}
		c.mu.Unlock()
		return models.Result{}, false
	}
	return res, true
}

func (c *forecastCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.results)
}

func (c *forecastCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
