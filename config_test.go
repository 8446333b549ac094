package rasterpager

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
cacheSize: 64MiB
pageSize: 1 MB
victimSize: 8MiB
scratchDir: /data/scratch
maxInMemory: 2GiB
prefetchWorkers: 8
`))
	require.NoError(t, err)
	assert.Equal(t, Config{
		CacheBytes:       64 << 20,
		PageBytes:        1000000,
		VictimBytes:      8 << 20,
		ScratchDir:       "/data/scratch",
		MaxInMemoryBytes: 2 << 30,
		PrefetchWorkers:  8,
	}, cfg)

	cfg, err = LoadConfig(strings.NewReader("pageSize: 64KiB\n"))
	require.NoError(t, err)
	def := DefaultConfig()
	def.PageBytes = 64 << 10
	assert.Equal(t, def, cfg)

	cfg, err = LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	for _, bad := range []string{
		"cacheSize: 12 parsecs\n",
		"pageBytes: 1MiB\n",
		"prefetchWorkers: -1\n",
		"cacheSize: 0\n",
		"[not, a, map]\n",
	} {
		_, err = LoadConfig(strings.NewReader(bad))
		assert.Error(t, err, bad)
	}
	_, err = LoadConfigFile("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScratchDir = "/tmp/raster"
	cfg.VictimBytes = 1 << 20
	back, err := LoadConfig(strings.NewReader(cfg.String()))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
	assert.Contains(t, cfg.String(), "scratchDir: /tmp/raster")
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(WithLogger(nil))
	assert.IsType(t, ErrInvalidOption{}, err)

	cfg := DefaultConfig()
	cfg.PrefetchWorkers = 0
	_, err = cfg.NewEngine()
	assert.IsType(t, ErrInvalidOption{}, err)

	l := zap.NewExample()
	reg := prometheus.NewRegistry()
	e, err := NewEngine(WithLogger(l), WithRegisterer(reg))
	require.NoError(t, err)
	assert.Same(t, l, e.Logger())
	assert.Equal(t, DefaultConfig(), e.Config())
	_, err = NewEngine(WithRegisterer(reg))
	assert.Error(t, err)
}
