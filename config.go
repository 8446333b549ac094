package rasterpager

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// Config holds the tunables of an Engine.
type Config struct {
	// CacheBytes is the page cache budget of each element
	CacheBytes int64
	// PageBytes is the target size of a page
	PageBytes int
	// VictimBytes sizes the compressed cache of evicted pages kept by each
	// element. 0 disables it.
	VictimBytes int
	// ScratchDir receives the files backing on-disk scratch rasters
	ScratchDir string
	// MaxInMemoryBytes bounds the size of a single in-memory raster. 0
	// means no limit.
	MaxInMemoryBytes int64
	// PrefetchWorkers is the number of concurrent page fetches issued by
	// Element.Prefetch
	PrefetchWorkers int
}

func DefaultConfig() Config {
	return Config{
		CacheBytes:      256 << 20,
		PageBytes:       4 << 20,
		ScratchDir:      os.TempDir(),
		PrefetchWorkers: 4,
	}
}

func (cfg Config) validate() error {
	if cfg.CacheBytes <= 0 {
		return ErrInvalidOption{"cache size must be >=1"}
	}
	if cfg.PageBytes <= 0 {
		return ErrInvalidOption{"page size must be >=1"}
	}
	if cfg.VictimBytes < 0 || cfg.MaxInMemoryBytes < 0 {
		return ErrInvalidOption{"sizes must be >=0"}
	}
	if cfg.PrefetchWorkers <= 0 {
		return ErrInvalidOption{"prefetch workers must be >=1"}
	}
	return nil
}

// fileConfig is the YAML form of a Config. Sizes are human readable byte
// counts such as "512MiB" or "4 MB".
type fileConfig struct {
	CacheSize       string `json:"cacheSize,omitempty"`
	PageSize        string `json:"pageSize,omitempty"`
	VictimSize      string `json:"victimSize,omitempty"`
	ScratchDir      string `json:"scratchDir,omitempty"`
	MaxInMemory     string `json:"maxInMemory,omitempty"`
	PrefetchWorkers int    `json:"prefetchWorkers,omitempty"`
}

// LoadConfig reads a YAML configuration. Unset keys keep their
// DefaultConfig value.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	buf, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	fc := fileConfig{}
	if err := yaml.UnmarshalStrict(buf, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	size := func(s string, dst *int64) error {
		if s == "" {
			return nil
		}
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return fmt.Errorf("parse size %q: %w", s, err)
		}
		*dst = int64(n)
		return nil
	}
	page, victim := int64(cfg.PageBytes), int64(cfg.VictimBytes)
	for _, f := range []struct {
		s   string
		dst *int64
	}{
		{fc.CacheSize, &cfg.CacheBytes},
		{fc.PageSize, &page},
		{fc.VictimSize, &victim},
		{fc.MaxInMemory, &cfg.MaxInMemoryBytes},
	} {
		if err := size(f.s, f.dst); err != nil {
			return cfg, err
		}
	}
	cfg.PageBytes, cfg.VictimBytes = int(page), int(victim)
	if fc.ScratchDir != "" {
		cfg.ScratchDir = fc.ScratchDir
	}
	if fc.PrefetchWorkers != 0 {
		cfg.PrefetchWorkers = fc.PrefetchWorkers
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultConfig(), err
	}
	defer f.Close()
	return LoadConfig(f)
}

// String renders the configuration in its YAML form.
func (cfg Config) String() string {
	fc := fileConfig{
		CacheSize:       humanize.IBytes(uint64(cfg.CacheBytes)),
		PageSize:        humanize.IBytes(uint64(cfg.PageBytes)),
		VictimSize:      humanize.IBytes(uint64(cfg.VictimBytes)),
		ScratchDir:      cfg.ScratchDir,
		MaxInMemory:     humanize.IBytes(uint64(cfg.MaxInMemoryBytes)),
		PrefetchWorkers: cfg.PrefetchWorkers,
	}
	buf, err := yaml.Marshal(fc)
	if err != nil {
		return err.Error()
	}
	return string(buf)
}

type Option func(e *Engine) error

// WithLogger sets the logger of the engine and of the elements it creates.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) error {
		if l == nil {
			return ErrInvalidOption{"nil logger"}
		}
		e.logger = l
		return nil
	}
}

// WithRegisterer registers the cache metrics of the engine with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) error {
		return e.metrics.Register(reg)
	}
}
