// Package pixel implements the deterministic image-space comparison
// signal: a global structural similarity scalar blended with per-channel
// histogram distance, plus rendered heatmap and overlay artifacts.
package pixel

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/promptsmith/promptsmith/internal/domain"
	"github.com/promptsmith/promptsmith/internal/ports"
)

const (
	// ssimC1 and ssimC2 are the classic stabilization constants of the
	// two-term SSIM formula, (0.01)^2 and (0.03)^2.
	ssimC1 = 0.0001
	ssimC2 = 0.0009

	// histogramBins is the per-channel histogram resolution.
	histogramBins = 64

	// ssimWeight and histogramWeight blend the two sub-signals into the
	// pixel diff score.
	ssimWeight      = 0.65
	histogramWeight = 0.35

	heatmapFilename = "diff_heatmap.png"
	overlayFilename = "overlay.png"
)

// Comparator implements ports.PixelComparator.
type Comparator struct{}

// NewComparator creates a pixel comparator.
func NewComparator() *Comparator {
	return &Comparator{}
}

// Compare scores the candidate against the baseline and writes the
// heatmap and overlay artifacts into outputDir. The baseline's dimensions
// are authoritative: a candidate of different size is resampled to match
// before scoring. Decode and write failures propagate; this signal has no
// degraded mode.
func (c *Comparator) Compare(ctx context.Context, baseline, candidate []byte, outputDir string) (ports.PixelResult, error) {
	baseImg, err := decodeRGB(baseline)
	if err != nil {
		return ports.PixelResult{}, fmt.Errorf("decode baseline image: %w", err)
	}

	candImg, err := decodeRGB(candidate)
	if err != nil {
		return ports.PixelResult{}, fmt.Errorf("decode candidate image: %w", err)
	}

	if candImg.Bounds().Dx() != baseImg.Bounds().Dx() || candImg.Bounds().Dy() != baseImg.Bounds().Dy() {
		candImg = resizeTo(candImg, baseImg.Bounds().Dx(), baseImg.Bounds().Dy())
	}

	if err := ctx.Err(); err != nil {
		return ports.PixelResult{}, err
	}

	basePx := toUnitChannels(baseImg)
	candPx := toUnitChannels(candImg)

	ssim := globalSSIM(basePx, candPx)
	ssimDiff := domain.Clamp01(1.0 - ssim)
	histDistance := histogramDistance(basePx, candPx)
	score := domain.Clamp01(ssimWeight*ssimDiff + histogramWeight*histDistance)

	heatmap := renderHeatmap(basePx, candPx, baseImg.Bounds().Dx(), baseImg.Bounds().Dy())
	overlay := blendOverlay(baseImg, heatmap)

	artifacts, err := writeArtifacts(outputDir, heatmap, overlay)
	if err != nil {
		return ports.PixelResult{}, err
	}

	return ports.PixelResult{
		PixelDiffScore:    domain.Round4(score),
		SSIM:              ssim,
		HistogramDistance: histDistance,
		Artifacts:         artifacts,
	}, nil
}

// unitChannels holds an image as float channel values in [0,1].
type unitChannels struct {
	r, g, b []float64
	width   int
	height  int
}

func (u *unitChannels) pixelCount() int { return u.width * u.height }

// decodeRGB decodes PNG or JPEG bytes into an NRGBA image.
func decodeRGB(data []byte) (*image.NRGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, bounds.Min, xdraw.Src)
	return dst, nil
}

// resizeTo resamples the image to the given dimensions with a
// high-quality Catmull-Rom kernel.
func resizeTo(src *image.NRGBA, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// toUnitChannels normalizes an NRGBA image into per-channel floats in [0,1].
func toUnitChannels(img *image.NRGBA) *unitChannels {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	n := width * height
	out := &unitChannels{
		r:      make([]float64, n),
		g:      make([]float64, n),
		b:      make([]float64, n),
		width:  width,
		height: height,
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			offset := img.PixOffset(x, y)
			i := y*width + x
			out.r[i] = float64(img.Pix[offset]) / 255.0
			out.g[i] = float64(img.Pix[offset+1]) / 255.0
			out.b[i] = float64(img.Pix[offset+2]) / 255.0
		}
	}

	return out
}

// globalSSIM computes a single whole-image structural similarity scalar
// over the channel-averaged luma of both images. This is the two-constant
// SSIM formula applied to global statistics rather than sliding windows.
func globalSSIM(a, b *unitChannels) float64 {
	n := a.pixelCount()
	lumaA := make([]float64, n)
	lumaB := make([]float64, n)
	for i := 0; i < n; i++ {
		lumaA[i] = (a.r[i] + a.g[i] + a.b[i]) / 3.0
		lumaB[i] = (b.r[i] + b.g[i] + b.b[i]) / 3.0
	}

	muA := mean(lumaA)
	muB := mean(lumaB)

	var sigmaA, sigmaB, sigmaAB float64
	for i := 0; i < n; i++ {
		dA := lumaA[i] - muA
		dB := lumaB[i] - muB
		sigmaA += dA * dA
		sigmaB += dB * dB
		sigmaAB += dA * dB
	}
	sigmaA /= float64(n)
	sigmaB /= float64(n)
	sigmaAB /= float64(n)

	numerator := (2.0*muA*muB + ssimC1) * (2.0*sigmaAB + ssimC2)
	denominator := (muA*muA + muB*muB + ssimC1) * (sigmaA + sigmaB + ssimC2)
	if denominator == 0 {
		return 1.0
	}

	return domain.Clamp01(numerator / denominator)
}

// histogramDistance computes the per-channel histogram distance: half the
// L1 distance between 64-bin probability histograms, averaged across the
// three channels.
func histogramDistance(a, b *unitChannels) float64 {
	total := 0.0
	for _, pair := range [][2][]float64{{a.r, b.r}, {a.g, b.g}, {a.b, b.b}} {
		histA := probabilityHistogram(pair[0])
		histB := probabilityHistogram(pair[1])

		distance := 0.0
		for i := 0; i < histogramBins; i++ {
			diff := histA[i] - histB[i]
			if diff < 0 {
				diff = -diff
			}
			distance += diff
		}
		total += 0.5 * distance
	}

	return domain.Clamp01(total / 3.0)
}

// probabilityHistogram bins channel values over [0,1] into a probability
// mass histogram.
func probabilityHistogram(values []float64) [histogramBins]float64 {
	var hist [histogramBins]float64
	if len(values) == 0 {
		return hist
	}

	for _, v := range values {
		bin := int(v * histogramBins)
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		hist[bin]++
	}

	n := float64(len(values))
	for i := range hist {
		hist[i] /= n
	}
	return hist
}

// renderHeatmap renders the per-pixel channel-averaged absolute
// difference as an RGB image: red proportional to difference magnitude,
// blue proportional to inverse difference scaled to a low ceiling.
func renderHeatmap(a, b *unitChannels, width, height int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			diff := (abs(a.r[i]-b.r[i]) + abs(a.g[i]-b.g[i]) + abs(a.b[i]-b.b[i])) / 3.0
			diff = domain.Clamp01(diff)

			offset := out.PixOffset(x, y)
			out.Pix[offset] = uint8(diff * 255.0)
			out.Pix[offset+1] = 0
			out.Pix[offset+2] = uint8((1.0 - diff) * 70.0)
			out.Pix[offset+3] = 255
		}
	}
	return out
}

// blendOverlay alpha-blends the heatmap over the baseline at 40% opacity.
func blendOverlay(baseline, heatmap *image.NRGBA) *image.NRGBA {
	width, height := baseline.Bounds().Dx(), baseline.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = blendByte(baseline.Pix[i], heatmap.Pix[i])
		out.Pix[i+1] = blendByte(baseline.Pix[i+1], heatmap.Pix[i+1])
		out.Pix[i+2] = blendByte(baseline.Pix[i+2], heatmap.Pix[i+2])
		out.Pix[i+3] = 255
	}
	return out
}

func blendByte(base, heat uint8) uint8 {
	return uint8(0.6*float64(base) + 0.4*float64(heat) + 0.5)
}

// writeArtifacts writes the heatmap and overlay PNGs into dir and returns
// their paths, relative to the working directory when possible.
func writeArtifacts(dir string, heatmap, overlay *image.NRGBA) (domain.ReportArtifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ReportArtifacts{}, fmt.Errorf("create artifact dir: %w", err)
	}

	heatmapPath := filepath.Join(dir, heatmapFilename)
	if err := writePNG(heatmapPath, heatmap); err != nil {
		return domain.ReportArtifacts{}, err
	}

	overlayPath := filepath.Join(dir, overlayFilename)
	if err := writePNG(overlayPath, overlay); err != nil {
		return domain.ReportArtifacts{}, err
	}

	return domain.ReportArtifacts{
		DiffHeatmap: relativize(heatmapPath),
		Overlay:     relativize(overlayPath),
	}, nil
}

func writePNG(path string, img *image.NRGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", filepath.Base(path), err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode artifact %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// relativize rewrites a path relative to the working directory when it
// sits underneath it, else leaves the path as given.
func relativize(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == "" || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		return path
	}
	return rel
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
