package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"herdwatch/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestAnnotate(t *testing.T) {
	src := testJPEG(t, 160, 120)
	dets := []engine.Detection{
		{Confidence: 0.92, Box: [4]float64{20, 30, 100, 110}},
		{Confidence: 0.5, Box: [4]float64{500, 500, 600, 600}},
	}

	out, err := NewAnnotator().Annotate(src, dets, 0.92)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())

	// The bottom edge of the box is green-dominant.
	r, g, b, _ := img.At(60, 108).RGBA()
	assert.Greater(t, g, r)
	assert.Greater(t, g, b)
}

func TestAnnotate_InvalidInput(t *testing.T) {
	_, err := NewAnnotator().Annotate([]byte("not a jpeg"), nil, 0.9)
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "barn1")
	s, err := NewStore(dir)
	require.NoError(t, err)

	path, err := s.Save([]byte("abc"), "../escape.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.jpg"), path)

	data, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = s.Load(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestStore_WriteLive(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.WriteLive([]byte("one")))
	require.NoError(t, s.WriteLive([]byte("two")))

	data, err := os.ReadFile(filepath.Join(s.Dir(), LiveFrameName))
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
