package rasterpager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/tiff"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// An Engine creates and imports raster elements sharing one configuration,
// logger and set of cache metrics.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

// NewEngine creates an engine with the DefaultConfig.
func NewEngine(opts ...Option) (*Engine, error) {
	return DefaultConfig().NewEngine(opts...)
}

func (cfg Config) NewEngine(opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: newMetrics(),
	}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// CreateRasterElement allocates a new raster of the given shape, either
// resident in memory or backed by a scratch file in the configured scratch
// directory. The classification is inherited from parent, or set to the
// maximum level when parent is nil. Either a fully usable element or an
// error is returned; allocation failures wrap ErrAllocation.
func (e *Engine) CreateRasterElement(name string, rows, columns, bands int, encoding EncodingType,
	interleave InterleaveFormat, inMemory bool, parent *Element) (*Element, error) {
	if rows <= 0 || columns <= 0 || bands <= 0 {
		return nil, fmt.Errorf("%w: cannot create %dx%dx%d raster", ErrInvalidRequest, rows, columns, bands)
	}
	if BytesInEncoding(encoding) == 0 {
		return nil, fmt.Errorf("%w: encoding %v", ErrUnsupported, encoding)
	}
	var cls Classified
	if parent != nil {
		cls = parent
	}
	location := OnDisk
	if inMemory {
		location = InMemory
	}
	desc := GenerateRasterDataDescriptor(name, cls, rows, columns, bands, interleave, encoding, location)
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if inMemory {
		return e.newMemoryElement(desc)
	}
	return e.newScratchElement(desc)
}

func (e *Engine) newMemoryElement(desc *RasterDescriptor) (*Element, error) {
	size := desc.DataSize()
	if e.cfg.MaxInMemoryBytes > 0 && size > e.cfg.MaxInMemoryBytes {
		return nil, fmt.Errorf("%w: %d bytes above in-memory limit of %d", ErrAllocation, size, e.cfg.MaxInMemoryBytes)
	}
	block, err := allocate(size)
	if err != nil {
		return nil, err
	}
	return e.newElement(desc, newMemoryPager(desc, block), block, 1)
}

func (e *Engine) newScratchElement(desc *RasterDescriptor) (el *Element, err error) {
	path := filepath.Join(e.cfg.ScratchDir, fmt.Sprintf("rasterpager-%s.raw", uuid.New()))
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	err = f.Truncate(desc.DataSize())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("size scratch file %s: %w", path, err)
	}
	GenerateAndSetFileDescriptor(desc, path, LittleEndian)
	pager, err := NewRawPager(desc, true)
	if err != nil {
		return nil, err
	}
	el, err = e.newElement(desc, pager, nil, 1)
	if err != nil {
		pager.Close()
		return nil, err
	}
	el.scratch = path
	e.logger.Debug("created scratch raster", zap.String("name", desc.Name), zap.String("path", path))
	return el, nil
}

// NewElement creates an element paging desc's data from pager. Elements
// processed OnDisk require a WritablePager.
func (e *Engine) NewElement(desc *RasterDescriptor, pager Pager) (*Element, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.ProcessingLocation == InMemory {
		return e.loadElement(desc.Clone(), pager)
	}
	if _, ok := pager.(WritablePager); !ok && desc.ProcessingLocation == OnDisk {
		return nil, fmt.Errorf("%w: writable raster %s needs a writable pager", ErrUnsupported, desc.Name)
	}
	align := 1
	if a, ok := pager.(interface{ RowAlignment() int }); ok {
		align = a.RowAlignment()
	}
	return e.newElement(desc.Clone(), pager, nil, align)
}

// loadElement reads the whole raster through pager into a resident block.
func (e *Engine) loadElement(desc *RasterDescriptor, pager Pager) (*Element, error) {
	block, err := allocate(desc.DataSize())
	if err != nil {
		return nil, err
	}
	req := &PageRequest{
		Rows:       desc.Rows,
		Columns:    desc.Columns,
		Bands:      desc.Bands,
		AllBands:   true,
		Interleave: desc.Interleave,
		Encoding:   desc.Encoding,
	}
	unit, err := pager.FetchUnit(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", desc.Name, err)
	}
	if err := checkUnit(req, unit); err != nil {
		return nil, fmt.Errorf("load %s: %w", desc.Name, err)
	}
	copy(block, unit.Data)
	return e.newElement(desc, newMemoryPager(desc, block), block, 1)
}

// ImportRaw pages the raw file described by desc.FileDescriptor.
func (e *Engine) ImportRaw(desc *RasterDescriptor) (*Element, error) {
	pager, err := NewRawPager(desc, desc.ProcessingLocation == OnDisk)
	if err != nil {
		return nil, err
	}
	el, err := e.NewElement(desc, pager)
	if err != nil || desc.ProcessingLocation == InMemory {
		pager.Close()
	}
	return el, err
}

// ImportTIFF pages the first image of a TIFF file. The classification is
// inherited from parent as for CreateRasterElement.
func (e *Engine) ImportTIFF(name string, r tiff.ReadAtReadSeeker, parent *Element) (*Element, error) {
	pager, desc, err := OpenTIFF(r)
	if err != nil {
		return nil, err
	}
	desc.Name = name
	if parent != nil {
		desc.Classification = parent.Classification().Clone()
	}
	return e.NewElement(desc, pager)
}

func (e *Engine) newElement(desc *RasterDescriptor, pager Pager, block []byte, align int) (*Element, error) {
	pages, err := NewPageLayout(len(desc.Rows), desc.RowBytes(),
		TargetPageBytes(e.cfg.PageBytes), RowAlignment(align))
	if err != nil {
		return nil, err
	}
	el := &Element{
		id:      uuid.New(),
		desc:    desc,
		block:   block,
		pager:   pager,
		pages:   pages,
		workers: e.cfg.PrefetchWorkers,
	}
	el.logger = e.logger.With(zap.String("element", desc.Name), zap.Stringer("id", el.id))
	var write writeFunc
	if el.Writable() {
		write = el.writePage
	}
	el.cache, err = newPageCache(e.cfg.CacheBytes, e.cfg.VictimBytes, el.fetchPage, write, e.metrics, el.logger)
	if err != nil {
		return nil, err
	}
	return el, nil
}
