package vision

import (
	"fmt"
	"image"
	"math"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/verid/internal/emotion"
)

// EmotionNet classifies a face crop into the seven FER categories using
// an ONNX model trained on 48x48 grayscale input.
type EmotionNet struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewEmotionNet loads emotion.onnx from modelsDir.
func NewEmotionNet(modelsDir string) (*EmotionNet, error) {
	modelPath := filepath.Join(modelsDir, "emotion.onnx")
	inputW, inputH := 48, 48

	inputShape := ort.NewShape(1, 1, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(len(emotion.Labels)))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create emotion session: %w", err)
	}

	return &EmotionNet{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Classify runs the classifier on a grayscale face crop and returns
// softmaxed per-category scores.
func (n *EmotionNet) Classify(face *image.Gray) (emotion.Scores, error) {
	copy(n.inputTensor.GetData(), GrayToFloat32(face, n.inputW, n.inputH))

	if err := n.session.Run(); err != nil {
		return emotion.Scores{}, fmt.Errorf("run emotion: %w", err)
	}

	logits := n.outputTensor.GetData()
	if len(logits) < len(emotion.Labels) {
		return emotion.Scores{}, fmt.Errorf("unexpected output size: %d", len(logits))
	}

	return softmax(logits), nil
}

// InputSize returns the expected face crop dimensions.
func (n *EmotionNet) InputSize() (int, int) {
	return n.inputW, n.inputH
}

func (n *EmotionNet) Close() {
	if n.session != nil {
		n.session.Destroy()
	}
	if n.inputTensor != nil {
		n.inputTensor.Destroy()
	}
	if n.outputTensor != nil {
		n.outputTensor.Destroy()
	}
}

func softmax(logits []float32) emotion.Scores {
	var out emotion.Scores
	maxV := float64(logits[0])
	for _, v := range logits[1:len(out)] {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	var sum float64
	for i := range out {
		out[i] = math.Exp(float64(logits[i]) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
