package liveness

import (
	"image"
	"math"
)

// TextureScore summarizes one face crop's surface texture.
// Printed photos and screens show low gradient variance and a flat,
// regular LBP histogram compared to skin.
type TextureScore struct {
	Variance   float64 // gradient-magnitude variance
	Uniformity float64 // LBP histogram energy, 1/256 (diverse) .. 1 (flat)
	SkinLike   bool
}

// TextureAnalyzer scores face crops for print/replay artifacts.
// Stateless per frame; the session keeps only the latest score.
type TextureAnalyzer struct {
	varianceFloor     float64
	uniformityCeiling float64
}

// NewTextureAnalyzer builds an analyzer. varianceFloor is the minimum
// gradient variance considered skin-like (default 100 upstream).
func NewTextureAnalyzer(varianceFloor float64) *TextureAnalyzer {
	return &TextureAnalyzer{
		varianceFloor:     varianceFloor,
		uniformityCeiling: 0.5,
	}
}

// Analyze computes the LBP histogram and gradient variance of a
// grayscale face crop.
func (t *TextureAnalyzer) Analyze(face *image.Gray) TextureScore {
	b := face.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return TextureScore{SkinLike: false}
	}

	hist := LBPHistogram(face)
	var energy float64
	for _, p := range hist {
		energy += p * p
	}

	variance := gradientVariance(face)

	return TextureScore{
		Variance:   variance,
		Uniformity: energy,
		SkinLike:   variance > t.varianceFloor && energy < t.uniformityCeiling,
	}
}

// LBPHistogram computes a normalized 256-bin local binary pattern
// histogram. Each interior pixel is compared against its 8 neighbours,
// clockwise from the top-left, forming an 8-bit code.
func LBPHistogram(img *image.Gray) [256]float64 {
	var hist [256]float64
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		hist[0] = 1
		return hist
	}

	offsets := [8][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{1, 0},
		{1, 1}, {0, 1}, {-1, 1},
		{-1, 0},
	}

	count := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			center := img.GrayAt(x, y).Y
			var code uint8
			for bit, off := range offsets {
				if img.GrayAt(x+off[0], y+off[1]).Y >= center {
					code |= 1 << uint(bit)
				}
			}
			hist[code]++
			count++
		}
	}

	for i := range hist {
		hist[i] /= float64(count)
	}
	return hist
}

// gradientVariance computes the variance of the Sobel gradient magnitude,
// a proxy for fine skin texture lost in print reproduction.
func gradientVariance(img *image.Gray) float64 {
	b := img.Bounds()

	var sum, sumSq float64
	n := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			gx := int(img.GrayAt(x+1, y).Y) - int(img.GrayAt(x-1, y).Y)
			gy := int(img.GrayAt(x, y+1).Y) - int(img.GrayAt(x, y-1).Y)
			mag := math.Sqrt(float64(gx*gx + gy*gy))
			sum += mag
			sumSq += mag * mag
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
