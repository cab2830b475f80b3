package imageload

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeObjects map[string][]byte

func (f fakeObjects) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f[key]
	if !ok {
		return nil, &HTTPStatusError{URL: key, Status: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestLoaderHTTP(t *testing.T) {
	body := pngBytes(t, 40, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bg.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	l := New(nil)
	img, err := l.Load(context.Background(), srv.URL+"/bg.png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	w, h, err := l.Dimensions(context.Background(), srv.URL+"/bg.png")
	require.NoError(t, err)
	assert.Equal(t, [2]int{40, 30}, [2]int{w, h})

	_, err = l.Load(context.Background(), srv.URL+"/missing.png")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestLoaderObjectStore(t *testing.T) {
	l := New(fakeObjects{"templates/1/bg.png": pngBytes(t, 8, 6)})

	img, err := l.Load(context.Background(), "/templates/1/bg.png")
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = l.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestLoaderSizeLimit(t *testing.T) {
	l := New(fakeObjects{"big.png": pngBytes(t, 64, 64)})
	l.MaxBytes = 16

	_, err := l.Fetch(context.Background(), "big.png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

type countingSource struct {
	calls int
}

func (c *countingSource) Load(context.Context, string) (image.Image, error) {
	c.calls++
	return image.NewNRGBA(image.Rect(0, 0, 1, 1)), nil
}

func TestCacheLoadsOnce(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src, 0)
	for range 3 {
		_, err := cache.Load(context.Background(), "a.png")
		require.NoError(t, err)
	}
	_, err := cache.Load(context.Background(), "b.png")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCacheResetsAtLimit(t *testing.T) {
	src := &countingSource{}
	cache := NewCache(src, 2)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c", "a"} {
		_, err := cache.Load(ctx, key)
		require.NoError(t, err)
	}
	// "c" clears {a, b}, so the second "a" is fetched again.
	assert.Equal(t, 4, src.calls)
}
