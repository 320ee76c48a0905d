package vision

import (
	"fmt"
	"image"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"
)

var yunetStrides = []int{8, 16, 32}

// YuNet runs the libfacedetection YuNet model, an anchor-free detector
// with one prediction per feature-map cell. Lighter than det_10g at
// reduced small-face recall.
type YuNet struct {
	session     *ort.AdvancedSession
	inputTensor *ort.Tensor[float32]
	cls         []*ort.Tensor[float32]
	obj         []*ort.Tensor[float32]
	bbox        []*ort.Tensor[float32]
	kps         []*ort.Tensor[float32]
	threshold   float32
	inputW      int
	inputH      int
}

// NewYuNet loads yunet.onnx from modelsDir.
func NewYuNet(modelsDir string, threshold float32) (*YuNet, error) {
	modelPath := filepath.Join(modelsDir, "yunet.onnx")
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	y := &YuNet{
		session:     nil,
		inputTensor: inputTensor,
		threshold:   threshold,
		inputW:      inputW,
		inputH:      inputH,
	}

	var outputNames []string
	var outputValues []ort.Value
	destroyAll := func() {
		inputTensor.Destroy()
		for _, t := range y.cls {
			t.Destroy()
		}
		for _, t := range y.obj {
			t.Destroy()
		}
		for _, t := range y.bbox {
			t.Destroy()
		}
		for _, t := range y.kps {
			t.Destroy()
		}
	}

	// One head per stride: cls [N,1], obj [N,1], bbox [N,4], kps [N,10]
	// where N = (640/stride)^2.
	for _, group := range []struct {
		prefix string
		width  int64
		dst    *[]*ort.Tensor[float32]
	}{
		{"cls", 1, &y.cls},
		{"obj", 1, &y.obj},
		{"bbox", 4, &y.bbox},
		{"kps", 10, &y.kps},
	} {
		for _, stride := range yunetStrides {
			n := int64((inputW / stride) * (inputH / stride))
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(n, group.width))
			if err != nil {
				destroyAll()
				return nil, fmt.Errorf("create %s_%d tensor: %w", group.prefix, stride, err)
			}
			*group.dst = append(*group.dst, t)
			outputNames = append(outputNames, fmt.Sprintf("%s_%d", group.prefix, stride))
			outputValues = append(outputValues, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("create yunet session: %w", err)
	}
	y.session = session

	return y, nil
}

func (d *YuNet) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(origW, origH)
	detections = nms(detections, 0.4)

	return detections, nil
}

func (d *YuNet) parseDetections(origW, origH int) []Detection {
	var detections []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range yunetStrides {
		cls := d.cls[si].GetData()
		obj := d.obj[si].GetData()
		bbox := d.bbox[si].GetData()
		kps := d.kps[si].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				// Final score is the geometric mean of class and
				// objectness confidences.
				score := sqrt32(cls[idx] * obj[idx])
				if score >= d.threshold {
					anchorX := float32(cx) * st
					anchorY := float32(cy) * st

					// bbox head predicts center offset and log size in
					// stride units.
					cxp := (anchorX + bbox[idx*4+0]*st) * scaleW
					cyp := (anchorY + bbox[idx*4+1]*st) * scaleH
					w := exp32(bbox[idx*4+2]) * st * scaleW
					h := exp32(bbox[idx*4+3]) * st * scaleH

					x1 := clampF(cxp-w/2, 0, float32(origW))
					y1 := clampF(cyp-h/2, 0, float32(origH))
					x2 := clampF(cxp+w/2, 0, float32(origW))
					y2 := clampF(cyp+h/2, 0, float32(origH))

					var lm [5][2]float32
					for li := 0; li < 5; li++ {
						lm[li][0] = (anchorX + kps[idx*10+li*2]*st) * scaleW
						lm[li][1] = (anchorY + kps[idx*10+li*2+1]*st) * scaleH
					}

					detections = append(detections, Detection{
						BBox:       [4]float32{x1, y1, x2, y2},
						Confidence: score,
						Landmarks:  lm,
					})
				}
				idx++
			}
		}
	}

	return detections
}

func (d *YuNet) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *YuNet) Preprocess(img image.Image) []float32 {
	// YuNet takes raw 0..255 pixel values.
	return ImageToFloat32CHW(img, d.inputW, d.inputH,
		[3]float32{0, 0, 0}, [3]float32{1, 1, 1})
}

func (d *YuNet) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.cls, d.obj, d.bbox, d.kps} {
		for _, t := range group {
			if t != nil {
				t.Destroy()
			}
		}
	}
}
