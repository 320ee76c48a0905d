package liveness

import (
	"image"
	"math"
)

// BlinkDetector counts blink events from a stream of eye-aspect-ratio
// samples. A blink is a run of at least minFrames consecutive samples
// below the EAR threshold followed by a recovery above it; the run
// requirement rejects single-frame detector noise.
type BlinkDetector struct {
	threshold  float64
	minFrames  int
	belowCount int
	blinks     int
}

func NewBlinkDetector(threshold float64, minFrames int) *BlinkDetector {
	if minFrames < 1 {
		minFrames = 1
	}
	return &BlinkDetector{threshold: threshold, minFrames: minFrames}
}

// Observe feeds one EAR sample and reports whether a blink completed on
// this sample.
func (b *BlinkDetector) Observe(ear float64) bool {
	if ear < b.threshold {
		b.belowCount++
		return false
	}
	blinked := b.belowCount >= b.minFrames
	if blinked {
		b.blinks++
	}
	b.belowCount = 0
	return blinked
}

// Blinks returns the cumulative blink count. Monotonic non-decreasing
// for the lifetime of the detector.
func (b *BlinkDetector) Blinks() int {
	return b.blinks
}

// Reset clears all state. Called only on session creation.
func (b *BlinkDetector) Reset() {
	b.belowCount = 0
	b.blinks = 0
}

// EyeAspectRatio computes the classic 6-landmark EAR:
//
//	(|p2-p6| + |p3-p5|) / (2 * |p1-p4|)
//
// where p1/p4 are the horizontal eye corners and p2,p3/p6,p5 the upper/
// lower lid points. Scale-invariant; open eyes sit around 0.3, closed
// eyes drop below ~0.2.
func EyeAspectRatio(eye [6]image.Point) float64 {
	v1 := dist(eye[1], eye[5])
	v2 := dist(eye[2], eye[4])
	h := dist(eye[0], eye[3])
	if h == 0 {
		return 1.0
	}
	return (v1 + v2) / (2 * h)
}

// EyeOpenness estimates an EAR-like openness ratio from a grayscale eye
// patch when the detection backend supplies only eye centers rather than
// lid landmarks. The dark iris/lash region is isolated by thresholding
// below the patch mean; the ratio of its vertical to horizontal extent
// behaves like EAR (tall when open, flat when closed).
func EyeOpenness(patch *image.Gray) float64 {
	b := patch.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 1.0
	}

	var sum int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int(patch.GrayAt(x, y).Y)
		}
	}
	mean := uint8(sum / (b.Dx() * b.Dy()))

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if patch.GrayAt(x, y).Y < mean {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < minX || maxY < minY {
		return 1.0
	}

	w := float64(maxX - minX + 1)
	h := float64(maxY - minY + 1)
	return h / (w + 1e-6)
}

func dist(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
