package rasterpager

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu      sync.Mutex
	fetches map[pageKey]int
	writes  map[pageKey][]byte
	fail    map[pageKey]error
	gate    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fetches: map[pageKey]int{},
		writes:  map[pageKey][]byte{},
		fail:    map[pageKey]error{},
	}
}

func (s *fakeSource) fetch(ctx context.Context, key pageKey) ([]byte, error) {
	s.mu.Lock()
	s.fetches[key]++
	err := s.fail[key]
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return bytes.Repeat([]byte{byte(key.startRow)}, 10), nil
}

func (s *fakeSource) write(ctx context.Context, key pageKey, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeSource) fetchCount(key pageKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[key]
}

func rowKey(start int) pageKey {
	return pageKey{startRow: start, rowCount: 1, band: allBands, interleave: BIP}
}

func TestCacheReferencedPagesAreNotEvicted(t *testing.T) {
	src := newFakeSource()
	m := newMetrics()
	c, err := newPageCache(20, 0, src.fetch, nil, m, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	p0, err := c.acquire(ctx, rowKey(0), false)
	require.NoError(t, err)
	p1, err := c.acquire(ctx, rowKey(1), false)
	require.NoError(t, err)
	p2, err := c.acquire(ctx, rowKey(2), false)
	require.NoError(t, err)
	st := c.Stats()
	assert.Equal(t, CacheStats{Pages: 3, Referenced: 3, Bytes: 30, Budget: 20}, st)

	c.release(p0)
	st = c.Stats()
	assert.Equal(t, 2, st.Pages)
	assert.EqualValues(t, 20, st.Bytes)
	assert.Equal(t, bytes.Repeat([]byte{1}, 10), p1.data)
	assert.Equal(t, bytes.Repeat([]byte{2}, 10), p2.data)

	c.release(p1)
	p1, err = c.acquire(ctx, rowKey(1), false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetchCount(rowKey(1)))
	c.release(p1)
	c.release(p2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.Resident))
	assert.Panics(t, func() { c.release(p2) })
}

func TestCacheVictim(t *testing.T) {
	src := newFakeSource()
	m := newMetrics()
	c, err := newPageCache(10, 1<<20, src.fetch, nil, m, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	p0, err := c.acquire(ctx, rowKey(0), false)
	require.NoError(t, err)
	c.release(p0)
	p1, err := c.acquire(ctx, rowKey(1), false)
	require.NoError(t, err)
	c.release(p1)
	assert.Equal(t, 1, c.Stats().Pages)

	p0, err = c.acquire(ctx, rowKey(0), false)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0}, 10), p0.data)
	c.release(p0)
	assert.Equal(t, 1, src.fetchCount(rowKey(0)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VictimHits))

	c.purge()
	p1, err = c.acquire(ctx, rowKey(1), false)
	require.NoError(t, err)
	c.release(p1)
	assert.Equal(t, 2, src.fetchCount(rowKey(1)))
}

func TestCacheWriteBack(t *testing.T) {
	src := newFakeSource()
	m := newMetrics()
	c, err := newPageCache(10, 0, src.fetch, src.write, m, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	p0, err := c.acquire(ctx, rowKey(0), true)
	require.NoError(t, err)
	p0.data[0] = 99
	c.release(p0)
	assert.Equal(t, 1, c.Stats().Dirty)
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 0, c.Stats().Dirty)
	assert.Equal(t, byte(99), src.writes[rowKey(0)][0])

	p0, err = c.acquire(ctx, rowKey(0), true)
	require.NoError(t, err)
	p0.data[1] = 42
	c.release(p0)
	p1, err := c.acquire(ctx, rowKey(1), false)
	require.NoError(t, err)
	c.release(p1)
	assert.Equal(t, byte(42), src.writes[rowKey(0)][1])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WriteBacks))
	assert.Equal(t, 0, c.Stats().Dirty)
}

func TestCacheReadOnlyWriteBack(t *testing.T) {
	src := newFakeSource()
	c, err := newPageCache(10, 0, src.fetch, nil, newMetrics(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	p0, err := c.acquire(ctx, rowKey(0), true)
	require.NoError(t, err)
	c.release(p0)
	assert.ErrorIs(t, c.Flush(ctx), ErrReadOnly)
}

func TestCacheOverlappingPages(t *testing.T) {
	src := newFakeSource()
	c, err := newPageCache(1000, 0, src.fetch, src.write, newMetrics(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	band0 := pageKey{startRow: 0, rowCount: 2, band: 0, interleave: BSQ}
	band1 := pageKey{startRow: 0, rowCount: 2, band: 1, interleave: BSQ}
	all := pageKey{startRow: 0, rowCount: 2, band: allBands, interleave: BIP}
	assert.True(t, band0.overlaps(all))
	assert.False(t, band0.overlaps(band1))
	assert.False(t, rowKey(2).overlaps(all))

	p, err := c.acquire(ctx, band0, false)
	require.NoError(t, err)
	c.release(p)
	p, err = c.acquire(ctx, band1, false)
	require.NoError(t, err)

	// modifying all bands drops the unreferenced clean band 0 page
	w, err := c.acquire(ctx, all, true)
	require.NoError(t, err)
	assert.Equal(t, CacheStats{Pages: 2, Referenced: 2, Dirty: 1, Bytes: 20, Budget: 1000}, c.Stats())
	c.release(w)
	assert.Equal(t, 2, c.Stats().Pages)
	assert.Empty(t, src.writes)

	// the band 1 page was referenced during the write and is dropped on release
	c.release(p)
	assert.Equal(t, 1, c.Stats().Pages)

	// fetching an overlapping page writes back the dirty one first
	q, err := c.acquire(ctx, band0, false)
	require.NoError(t, err)
	c.release(q)
	assert.Contains(t, src.writes, all)
	assert.Equal(t, 2, src.fetchCount(band0))
	q, err = c.acquire(ctx, band1, false)
	require.NoError(t, err)
	c.release(q)
	assert.Equal(t, 2, src.fetchCount(band1))
}

func TestCacheStalePages(t *testing.T) {
	src := newFakeSource()
	c, err := newPageCache(1000, 1<<20, src.fetch, src.write, newMetrics(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	band0 := pageKey{startRow: 0, rowCount: 2, band: 0, interleave: BSQ}
	all := pageKey{startRow: 0, rowCount: 2, band: allBands, interleave: BSQ}

	// a page held while the backing data changes is refetched by later readers
	p, err := c.acquire(ctx, all, false)
	require.NoError(t, err)
	c.invalidate()
	q, err := c.acquire(ctx, all, false)
	require.NoError(t, err)
	assert.NotSame(t, p, q)
	assert.Equal(t, 2, src.fetchCount(all))
	c.release(p)
	c.release(q)
	assert.Equal(t, CacheStats{Pages: 1, Bytes: 10, Budget: 1000}, c.Stats())

	// a reader holding a page overlapping a writer's
	p, err = c.acquire(ctx, all, false)
	require.NoError(t, err)
	w, err := c.acquire(ctx, band0, true)
	require.NoError(t, err)
	c.release(w)
	c.release(p)
	assert.Equal(t, CacheStats{Pages: 1, Dirty: 1, Bytes: 10, Budget: 1000}, c.Stats())
	p, err = c.acquire(ctx, all, false)
	require.NoError(t, err)
	c.release(p)
	assert.Contains(t, src.writes, band0)
	assert.Equal(t, 3, src.fetchCount(all))

	// a reader fetching while a writer holds its page
	w, err = c.acquire(ctx, band0, true)
	require.NoError(t, err)
	p, err = c.acquire(ctx, all, false)
	require.NoError(t, err)
	c.release(w)
	c.release(p)
	p, err = c.acquire(ctx, all, false)
	require.NoError(t, err)
	c.release(p)
	assert.Equal(t, 5, src.fetchCount(all))
}

func TestCacheFetchError(t *testing.T) {
	src := newFakeSource()
	boom := errors.New("boom")
	src.fail[rowKey(3)] = boom
	m := newMetrics()
	c, err := newPageCache(100, 0, src.fetch, nil, m, zap.NewNop())
	require.NoError(t, err)

	_, err = c.acquire(context.Background(), rowKey(3), false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().Pages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors))

	_, err = c.acquire(context.Background(), rowKey(3), false)
	assert.Error(t, err)
	assert.Equal(t, 2, src.fetchCount(rowKey(3)))
}

func TestCacheSingleFlight(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	c, err := newPageCache(100, 0, src.fetch, nil, newMetrics(), zap.NewNop())
	require.NoError(t, err)

	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			p, err := c.acquire(context.Background(), rowKey(5), false)
			if assert.NoError(t, err) {
				assert.Equal(t, byte(5), p.data[9])
				c.release(p)
			}
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	assert.Equal(t, 1, src.fetchCount(rowKey(5)))
	assert.Equal(t, CacheStats{Pages: 1, Bytes: 10, Budget: 100}, c.Stats())
}

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := newMetrics()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
	m.Hits.Inc()
	n, err := testutil.GatherAndCount(reg, "rasterpager_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
