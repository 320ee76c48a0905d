package vision

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		want float32
	}{
		{"identical", [4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}, 1.0},
		{"disjoint", [4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}, 0},
		{"half overlap", [4]float32{0, 0, 10, 10}, [4]float32{5, 0, 15, 10}, 1.0 / 3.0},
		{"contained quarter", [4]float32{0, 0, 10, 10}, [4]float32{0, 0, 5, 5}, 0.25},
		{"touching edge", [4]float32{0, 0, 10, 10}, [4]float32{10, 0, 20, 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("IoU() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.7},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9}, // same face, higher score
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.8},
	}

	kept := nms(dets, 0.4)
	if len(kept) != 2 {
		t.Fatalf("nms kept %d detections, want 2", len(kept))
	}
	if kept[0].Confidence != 0.9 {
		t.Errorf("highest-confidence detection not ranked first: %v", kept[0].Confidence)
	}
	for _, d := range kept {
		if d.Confidence == 0.7 {
			t.Error("overlapping lower-confidence detection survived nms")
		}
	}
}

func TestNMSKeepsDistinctFaces(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{100, 0, 110, 10}, Confidence: 0.6},
		{BBox: [4]float32{0, 100, 10, 110}, Confidence: 0.8},
	}
	if kept := nms(dets, 0.4); len(kept) != 3 {
		t.Errorf("nms dropped non-overlapping detections, kept %d of 3", len(kept))
	}
}

func TestNMSEmptyInput(t *testing.T) {
	if kept := nms(nil, 0.4); len(kept) != 0 {
		t.Errorf("nms(nil) = %v, want empty", kept)
	}
}

func TestNewBackendUnknownName(t *testing.T) {
	if _, err := NewBackend("opencv", "/tmp/models", 0.5); err == nil {
		t.Error("unknown backend name should error")
	}
}
