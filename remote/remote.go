// Package remote gives access to rasters stored on Google Cloud Storage,
// reading them through a block cache.
package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
)

// KeyReaderAt reads objects by key, as the osio adapters do.
type KeyReaderAt interface {
	ReadAt(key string, p []byte, off int64) (int, error)
	Size(key string) (int64, error)
}

// Opener opens gs:// objects as random access readers.
type Opener struct {
	kr     KeyReaderAt
	client *storage.Client
}

type options struct {
	blockSize string
	numBlocks int
	client    *storage.Client
}

type Option func(o *options)

// BlockSize sets the size of the cached blocks, e.g. "512k".
func BlockSize(s string) Option {
	return func(o *options) { o.blockSize = s }
}

// NumCachedBlocks sets the number of blocks kept in memory.
func NumCachedBlocks(n int) Option {
	return func(o *options) { o.numBlocks = n }
}

// Client sets the storage client to use instead of a default one.
func Client(c *storage.Client) Option {
	return func(o *options) { o.client = c }
}

// NewOpener reads objects through kr.
func NewOpener(kr KeyReaderAt) *Opener {
	return &Opener{kr: kr}
}

// NewGCSOpener creates an opener reading gs:// objects through an osio block
// cache.
func NewGCSOpener(ctx context.Context, opts ...Option) (*Opener, *osio.Adapter, error) {
	o := options{blockSize: "512k", numBlocks: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	var err error
	if o.client == nil {
		if o.client, err = storage.NewClient(ctx); err != nil {
			return nil, nil, fmt.Errorf("storage.newclient: %w", err)
		}
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(o.client))
	if err != nil {
		return nil, nil, fmt.Errorf("gcs.handle: %w", err)
	}
	adapter, err := osio.NewAdapter(gcsh, osio.BlockSize(o.blockSize), osio.NumCachedBlocks(o.numBlocks))
	if err != nil {
		return nil, nil, fmt.Errorf("osio.new: %w", err)
	}
	return &Opener{kr: adapter, client: o.client}, adapter, nil
}

// IsRemote reports whether name is a gs:// uri.
func IsRemote(name string) bool {
	return strings.HasPrefix(name, "gs://")
}

// Split returns the bucket and object of a gs:// uri.
func Split(uri string) (bucket, object string, err error) {
	if !IsRemote(uri) {
		return "", "", fmt.Errorf("%s is not a gs:// uri", uri)
	}
	rest := strings.TrimPrefix(uri, "gs://")
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("invalid gs uri %s", uri)
	}
	return rest[:i], rest[i+1:], nil
}

type objectReaderAt struct {
	kr  KeyReaderAt
	key string
}

func (o objectReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return o.kr.ReadAt(o.key, p, off)
}

// Open returns a reader over the object named by uri. The reader satisfies
// the interface expected by the TIFF pager.
func (op *Opener) Open(uri string) (*io.SectionReader, error) {
	if _, _, err := Split(uri); err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(uri, "gs://")
	size, err := op.kr.Size(key)
	if err != nil {
		return nil, fmt.Errorf("size %s: %w", uri, err)
	}
	return io.NewSectionReader(objectReaderAt{kr: op.kr, key: key}, 0, size), nil
}

// Upload copies r to the object named by uri.
func (op *Opener) Upload(ctx context.Context, uri string, r io.Reader) error {
	if op.client == nil {
		return fmt.Errorf("upload %s: no storage client", uri)
	}
	bucket, object, err := Split(uri)
	if err != nil {
		return err
	}
	w := op.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", uri, err)
	}
	return nil
}
