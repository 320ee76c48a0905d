package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	Landmarks  [5][2]float32 // left eye, right eye, nose, mouth corners
}

// Backend is a face detection model. Implementations preprocess to
// their own input size; callers feed the CHW tensor from Preprocess.
type Backend interface {
	// Detect runs detection on a preprocessed CHW tensor. origW/origH
	// are the original image dimensions for coordinate scaling.
	Detect(imgData []float32, origW, origH int) ([]Detection, error)
	// InputSize returns the model's expected input dimensions.
	InputSize() (int, int)
	// Preprocess builds the CHW tensor for this backend's normalization.
	Preprocess(img image.Image) []float32
	Close()
}

// NewBackend constructs the detection backend named in config.
// Supported: "retinaface" (SCRFD det_10g), "yunet".
func NewBackend(name, modelsDir string, threshold float32) (Backend, error) {
	switch name {
	case "retinaface":
		return NewRetinaFace(modelsDir, threshold)
	case "yunet":
		return NewYuNet(modelsDir, threshold)
	default:
		return nil, fmt.Errorf("unknown detection backend %q", name)
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if IoU(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, d := range detections {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

// IoU computes intersection over union of two boxes.
func IoU(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
