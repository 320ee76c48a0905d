package liveness

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
)

// noisyCrop builds a high-frequency crop resembling skin texture.
func noisyCrop(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}
	return img
}

// flatCrop builds a uniform crop resembling a washed-out print.
func flatCrop(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func grayPixel(v uint8) color.Gray {
	return color.Gray{Y: v}
}

func TestTextureAnalyzer(t *testing.T) {
	analyzer := NewTextureAnalyzer(100)

	t.Run("noisy crop is skin-like", func(t *testing.T) {
		score := analyzer.Analyze(noisyCrop(64, 64, 7))
		if !score.SkinLike {
			t.Errorf("noisy crop rejected: variance=%v uniformity=%v", score.Variance, score.Uniformity)
		}
		if score.Variance <= 100 {
			t.Errorf("noise variance %v unexpectedly low", score.Variance)
		}
	})

	t.Run("flat crop is print-like", func(t *testing.T) {
		score := analyzer.Analyze(flatCrop(64, 64, 128))
		if score.SkinLike {
			t.Error("uniform crop accepted as skin")
		}
		if score.Variance != 0 {
			t.Errorf("flat crop variance = %v, want 0", score.Variance)
		}
	})

	t.Run("tiny crop fails closed", func(t *testing.T) {
		score := analyzer.Analyze(flatCrop(2, 2, 128))
		if score.SkinLike {
			t.Error("2x2 crop must not be judged skin-like")
		}
	})
}

func TestLBPHistogramNormalized(t *testing.T) {
	hist := LBPHistogram(noisyCrop(32, 32, 3))

	var sum float64
	for _, p := range hist {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("histogram sums to %v, want 1.0", sum)
	}
}

func TestLBPHistogramFlatImage(t *testing.T) {
	// Every neighbour equals the center, so every code is 0xFF.
	hist := LBPHistogram(flatCrop(16, 16, 90))
	if hist[0xFF] != 1.0 {
		t.Errorf("flat image should concentrate in bin 255, got %v", hist[0xFF])
	}
}
