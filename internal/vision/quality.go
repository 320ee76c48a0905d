package vision

import "image"

// QualityReport scores one face crop for enrollment or verification use.
// Overall is the mean of the three component scores in 0..1.
type QualityReport struct {
	Brightness float64 // mean intensity, 0..255
	Sharpness  float64 // Laplacian variance
	FaceArea   int     // crop pixels

	BrightnessScore float64
	SharpnessScore  float64
	SizeScore       float64
	Overall         float64
}

// QualityAssessor gates face crops before the expensive pipeline
// stages. Rejected crops never open a liveness session.
type QualityAssessor struct {
	minScore       float64
	brightnessMin  float64
	brightnessMax  float64
	sharpnessFloor float64
	minFacePixels  int
}

func NewQualityAssessor(minScore, brightnessMin, brightnessMax, sharpnessFloor float64, minFacePixels int) *QualityAssessor {
	return &QualityAssessor{
		minScore:       minScore,
		brightnessMin:  brightnessMin,
		brightnessMax:  brightnessMax,
		sharpnessFloor: sharpnessFloor,
		minFacePixels:  minFacePixels,
	}
}

// Assess scores a grayscale face crop.
func (q *QualityAssessor) Assess(face *image.Gray) QualityReport {
	b := face.Bounds()
	area := b.Dx() * b.Dy()

	r := QualityReport{
		Brightness: meanIntensity(face),
		Sharpness:  laplacianVariance(face),
		FaceArea:   area,
	}

	// Brightness scores 1.0 inside the acceptable band and falls off
	// linearly toward 0 at pure black/white.
	switch {
	case r.Brightness < q.brightnessMin:
		r.BrightnessScore = r.Brightness / q.brightnessMin
	case r.Brightness > q.brightnessMax:
		r.BrightnessScore = (255 - r.Brightness) / (255 - q.brightnessMax)
	default:
		r.BrightnessScore = 1.0
	}

	r.SharpnessScore = r.Sharpness / q.sharpnessFloor
	if r.SharpnessScore > 1.0 {
		r.SharpnessScore = 1.0
	}

	r.SizeScore = float64(area) / float64(q.minFacePixels)
	if r.SizeScore > 1.0 {
		r.SizeScore = 1.0
	}

	r.Overall = (r.BrightnessScore + r.SharpnessScore + r.SizeScore) / 3.0
	return r
}

// Acceptable reports whether the crop passes the quality gate.
func (q *QualityAssessor) Acceptable(r QualityReport) bool {
	return r.Overall >= q.minScore
}

func meanIntensity(img *image.Gray) float64 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += float64(img.GrayAt(x, y).Y)
		}
	}
	return sum / float64(n)
}

// laplacianVariance applies the 4-neighbour Laplacian kernel and returns
// the variance of its response, the standard focus measure.
func laplacianVariance(img *image.Gray) float64 {
	b := img.Bounds()

	var sum, sumSq float64
	n := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			lap := 4*int(img.GrayAt(x, y).Y) -
				int(img.GrayAt(x-1, y).Y) - int(img.GrayAt(x+1, y).Y) -
				int(img.GrayAt(x, y-1).Y) - int(img.GrayAt(x, y+1).Y)
			v := float64(lap)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
