package rasterpager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/golang/snappy"
	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"
)

const allBands = -1

// pageKey identifies a cached page of one element.
type pageKey struct {
	startRow, rowCount int
	// band is the active band number, or allBands
	band       int
	interleave InterleaveFormat
}

func (k pageKey) String() string {
	return fmt.Sprintf("%d+%d/%d/%v", k.startRow, k.rowCount, k.band, k.interleave)
}

func (k pageKey) overlaps(o pageKey) bool {
	if k.startRow+k.rowCount <= o.startRow || o.startRow+o.rowCount <= k.startRow {
		return false
	}
	return k.band == allBands || o.band == allBands || k.band == o.band
}

// A cachedPage is exclusively owned by its cache. Accessors hold counted
// references to it; a referenced page is never evicted.
type cachedPage struct {
	key   pageKey
	data  []byte
	refs  int
	dirty bool
	// stale pages were overwritten through an overlapping page or the
	// resident block while referenced; they are dropped on last release
	stale bool
	// ready is closed once data or err is set
	ready chan struct{}
	err   error
}

type fetchFunc func(ctx context.Context, key pageKey) ([]byte, error)
type writeFunc func(ctx context.Context, key pageKey, data []byte) error

// PageCache holds the pages of one element within a byte budget, evicting
// the least recently used unreferenced pages first. The budget may be
// exceeded while every resident page is referenced.
type PageCache struct {
	mu      sync.Mutex
	pages   *simplelru.LRU
	budget  int64
	size    int64
	victim  *freecache.Cache
	fetch   fetchFunc
	write   writeFunc
	metrics *Metrics
	logger  *zap.Logger
}

func newPageCache(budget int64, victimBytes int, fetch fetchFunc, write writeFunc,
	metrics *Metrics, logger *zap.Logger) (*PageCache, error) {
	lru, err := simplelru.NewLRU(math.MaxInt32, nil)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	c := &PageCache{
		pages:   lru,
		budget:  budget,
		fetch:   fetch,
		write:   write,
		metrics: metrics,
		logger:  logger,
	}
	if victimBytes > 0 {
		c.victim = freecache.NewCache(victimBytes)
	}
	return c, nil
}

// CacheStats is a snapshot of a page cache.
type CacheStats struct {
	Pages      int
	Referenced int
	Dirty      int
	Bytes      int64
	Budget     int64
}

func (c *PageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{Pages: c.pages.Len(), Bytes: c.size, Budget: c.budget}
	for _, k := range c.pages.Keys() {
		v, _ := c.pages.Peek(k)
		p := v.(*cachedPage)
		if p.refs > 0 {
			st.Referenced++
		}
		if p.dirty {
			st.Dirty++
		}
	}
	return st
}

// acquire returns a referenced page for key, fetching it on a miss. The
// caller must release it. Pages acquired for writing are marked dirty.
func (c *PageCache) acquire(ctx context.Context, key pageKey, writable bool) (*cachedPage, error) {
	c.mu.Lock()
	if v, ok := c.pages.Get(key); ok && v.(*cachedPage).stale {
		c.removeLocked(v.(*cachedPage))
	} else if ok {
		p := v.(*cachedPage)
		p.refs++
		c.mu.Unlock()
		<-p.ready
		if p.err != nil {
			c.release(p)
			return nil, p.err
		}
		c.metrics.Hits.Inc()
		if writable {
			c.markDirty(p)
		}
		return p, nil
	}
	p := &cachedPage{key: key, refs: 1, ready: make(chan struct{})}
	c.pages.Add(key, p)
	err := c.flushOverlappingLocked(ctx, key)
	c.mu.Unlock()
	c.metrics.Misses.Inc()

	var data []byte
	if err == nil {
		data, err = c.load(ctx, key)
	}

	c.mu.Lock()
	if err != nil {
		p.err = err
		c.pages.Remove(key)
		c.metrics.FetchErrors.Inc()
	} else {
		p.data = data
		c.size += int64(len(data))
		c.metrics.Resident.Add(float64(len(data)))
	}
	close(p.ready)
	c.evictLocked(ctx)
	c.mu.Unlock()

	if err != nil {
		c.release(p)
		return nil, err
	}
	if writable {
		c.markDirty(p)
	}
	return p, nil
}

func (c *PageCache) load(ctx context.Context, key pageKey) ([]byte, error) {
	if c.victim != nil {
		vk := []byte(key.String())
		if enc, err := c.victim.Get(vk); err == nil {
			c.victim.Del(vk)
			if data, err := snappy.Decode(nil, enc); err == nil {
				c.metrics.VictimHits.Inc()
				return data, nil
			}
		} else if !errors.Is(err, freecache.ErrNotFound) {
			c.logger.Warn("victim cache lookup", zap.Error(err))
		}
	}
	st := time.Now()
	data, err := c.fetch(ctx, key)
	c.metrics.FetchTime.Observe(time.Since(st).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch page %v: %w", key, err)
	}
	return data, nil
}

func (c *PageCache) release(p *cachedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.refs--
	if p.refs < 0 {
		panic("rasterpager: page released more often than acquired")
	}
	if p.err != nil {
		return
	}
	if p.refs == 0 {
		if p.dirty {
			c.dropOverlappingLocked(p)
		}
		if p.stale && c.residentLocked(p) {
			c.removeLocked(p)
		}
	}
	c.evictLocked(context.Background())
}

// residentLocked reports whether p is the page cached under its key.
func (c *PageCache) residentLocked(p *cachedPage) bool {
	v, ok := c.pages.Peek(p.key)
	return ok && v.(*cachedPage) == p
}

// markDirty flags p as modified and drops the clean pages overlapping it.
func (c *PageCache) markDirty(p *cachedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.dirty {
		return
	}
	p.dirty = true
	c.dropOverlappingLocked(p)
}

// dropOverlappingLocked removes the clean pages overlapping p. Referenced
// ones are marked stale instead.
func (c *PageCache) dropOverlappingLocked(p *cachedPage) {
	for _, k := range c.pages.Keys() {
		v, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		o := v.(*cachedPage)
		if o == p || o.dirty || o.data == nil || !o.key.overlaps(p.key) {
			continue
		}
		if o.refs > 0 {
			o.stale = true
			continue
		}
		c.removeLocked(o)
	}
	if c.victim != nil {
		c.victim.Clear()
	}
}

// evictLocked drops unreferenced pages, oldest first, until the cache fits
// its budget.
func (c *PageCache) evictLocked(ctx context.Context) {
	for c.size > c.budget {
		evicted := false
		for _, k := range c.pages.Keys() {
			v, ok := c.pages.Peek(k)
			if !ok {
				continue
			}
			p := v.(*cachedPage)
			if p.refs > 0 || p.data == nil {
				continue
			}
			if p.stale {
				c.removeLocked(p)
				evicted = true
				break
			}
			if p.dirty {
				if err := c.writeBackLocked(ctx, p); err != nil {
					c.logger.Error("write back page", zap.Stringer("page", p.key), zap.Error(err))
					continue
				}
			}
			c.removeLocked(p)
			if c.victim != nil {
				if err := c.victim.Set([]byte(p.key.String()), snappy.Encode(nil, p.data), 0); err != nil {
					c.logger.Debug("victim cache store", zap.Stringer("page", p.key), zap.Error(err))
				}
			}
			c.metrics.Evictions.Inc()
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (c *PageCache) removeLocked(p *cachedPage) {
	c.pages.Remove(p.key)
	c.size -= int64(len(p.data))
	c.metrics.Resident.Sub(float64(len(p.data)))
}

func (c *PageCache) writeBackLocked(ctx context.Context, p *cachedPage) error {
	if c.write == nil {
		return fmt.Errorf("page %v: %w", p.key, ErrReadOnly)
	}
	if err := c.write(ctx, p.key, p.data); err != nil {
		return fmt.Errorf("page %v: %w", p.key, err)
	}
	c.metrics.WriteBacks.Inc()
	if p.refs == 0 {
		p.dirty = false
	}
	return nil
}

// flushOverlappingLocked writes back the unreferenced dirty pages overlapping
// key, so that a fetch of key reads their content.
func (c *PageCache) flushOverlappingLocked(ctx context.Context, key pageKey) error {
	for _, k := range c.pages.Keys() {
		v, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		p := v.(*cachedPage)
		if p.key == key || !p.dirty || p.refs > 0 || !p.key.overlaps(key) {
			continue
		}
		if err := c.writeBackLocked(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes back every dirty page. Pages still referenced stay dirty.
func (c *PageCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.pages.Keys() {
		v, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		p := v.(*cachedPage)
		if !p.dirty || p.data == nil {
			continue
		}
		if err := c.writeBackLocked(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// invalidate drops every clean page, used after the backing data changed
// behind the cache. Referenced pages are marked stale.
func (c *PageCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.pages.Keys() {
		v, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		p := v.(*cachedPage)
		if p.dirty || p.data == nil {
			continue
		}
		if p.refs > 0 {
			p.stale = true
			continue
		}
		c.removeLocked(p)
	}
	if c.victim != nil {
		c.victim.Clear()
	}
}

// purge empties the cache. Referenced pages are kept.
func (c *PageCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.pages.Keys() {
		v, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		p := v.(*cachedPage)
		if p.refs == 0 && p.data != nil {
			c.removeLocked(p)
		}
	}
	if c.victim != nil {
		c.victim.Clear()
	}
}
