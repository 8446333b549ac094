package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects map[string][]byte

func (m memObjects) ReadAt(key string, p []byte, off int64) (int, error) {
	obj, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%s not found", key)
	}
	if off >= int64(len(obj)) {
		return 0, io.EOF
	}
	n := copy(p, obj[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memObjects) Size(key string) (int64, error) {
	obj, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%s not found", key)
	}
	return int64(len(obj)), nil
}

func TestSplit(t *testing.T) {
	testfunc := func(uri, bucket, object string, ok bool) {
		t.Helper()
		b, o, err := Split(uri)
		if !ok {
			assert.Error(t, err, uri)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, bucket, b)
		assert.Equal(t, object, o)
	}
	testfunc("gs://bucket/path/to/file.tif", "bucket", "path/to/file.tif", true)
	testfunc("gs://bucket/f", "bucket", "f", true)
	testfunc("gs://bucket/", "", "", false)
	testfunc("gs://bucket", "", "", false)
	testfunc("gs:///file.tif", "", "", false)
	testfunc("/local/file.tif", "", "", false)
	assert.True(t, IsRemote("gs://b/o"))
	assert.False(t, IsRemote("s3://b/o"))
}

func TestOpen(t *testing.T) {
	content := []byte("0123456789abcdef")
	op := NewOpener(memObjects{"bucket/dir/file.tif": content})

	r, err := op.Open("gs://bucket/dir/file.tif")
	require.NoError(t, err)
	assert.EqualValues(t, len(content), r.Size())
	buf := make([]byte, 4)
	_, err = r.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), buf)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, all)

	_, err = op.Open("gs://bucket/missing.tif")
	assert.Error(t, err)
	_, err = op.Open("file.tif")
	assert.Error(t, err)

	err = op.Upload(context.Background(), "gs://bucket/out.tif", bytes.NewReader(content))
	assert.Error(t, err)
}
