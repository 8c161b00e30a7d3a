package pixel

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSolid(t *testing.T, width, height int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeGradient(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x * 255) / width)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: uint8(255 - int(v)), B: uint8((y * 255) / height), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestComparator_IdenticalImages(t *testing.T) {
	img := encodeGradient(t, 32, 32)
	comparator := NewComparator()

	result, err := comparator.Compare(t.Context(), img, img, t.TempDir())
	require.NoError(t, err)

	assert.InDelta(t, 0.0, result.PixelDiffScore, 1e-6, "self-comparison must score zero difference")
	assert.InDelta(t, 1.0, result.SSIM, 1e-6, "self-comparison must have perfect structural similarity")
	assert.InDelta(t, 0.0, result.HistogramDistance, 1e-9)
}

func TestComparator_DivergentImages(t *testing.T) {
	baseline := encodeSolid(t, 32, 32, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	candidate := encodeSolid(t, 32, 32, color.NRGBA{A: 255})
	comparator := NewComparator()

	result, err := comparator.Compare(t.Context(), baseline, candidate, t.TempDir())
	require.NoError(t, err)

	assert.Greater(t, result.PixelDiffScore, 0.5, "white vs black should score heavily divergent")
	assert.LessOrEqual(t, result.PixelDiffScore, 1.0)
}

func TestComparator_ResizesMismatchedDimensions(t *testing.T) {
	baseline := encodeGradient(t, 48, 32)
	candidate := encodeGradient(t, 96, 64)
	comparator := NewComparator()

	result, err := comparator.Compare(t.Context(), baseline, candidate, t.TempDir())
	require.NoError(t, err, "mismatched dimensions must not fail")

	assert.GreaterOrEqual(t, result.PixelDiffScore, 0.0)
	assert.LessOrEqual(t, result.PixelDiffScore, 1.0)
	assert.Less(t, result.PixelDiffScore, 0.2, "same gradient at double scale should stay close after resampling")
}

func TestComparator_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	baseline := encodeGradient(t, 16, 16)
	candidate := encodeSolid(t, 16, 16, color.NRGBA{R: 200, A: 255})
	comparator := NewComparator()

	result, err := comparator.Compare(t.Context(), baseline, candidate, dir)
	require.NoError(t, err)

	for _, path := range []string{result.Artifacts.DiffHeatmap, result.Artifacts.Overlay} {
		require.NotEmpty(t, path)
		resolved := path
		if !filepath.IsAbs(resolved) {
			cwd, err := os.Getwd()
			require.NoError(t, err)
			resolved = filepath.Join(cwd, resolved)
		}
		info, err := os.Stat(resolved)
		require.NoError(t, err, "artifact %s must exist", path)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, filepath.Join(dir, "diff_heatmap.png"), mustAbsJoin(t, result.Artifacts.DiffHeatmap))
	assert.Equal(t, filepath.Join(dir, "overlay.png"), mustAbsJoin(t, result.Artifacts.Overlay))
}

func mustAbsJoin(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

func TestComparator_RejectsUndecodableInput(t *testing.T) {
	comparator := NewComparator()

	_, err := comparator.Compare(t.Context(), []byte("not an image"), encodeGradient(t, 8, 8), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")

	_, err = comparator.Compare(t.Context(), encodeGradient(t, 8, 8), []byte("not an image"), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candidate")
}
