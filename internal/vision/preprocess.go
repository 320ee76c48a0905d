package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
)

// ImageToFloat32CHW converts an image to CHW float32 format with
// per-channel normalization:
//
//	pixel = (pixel - mean) / std
func ImageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// GrayToFloat32 converts a grayscale image to a [1, H, W] tensor scaled
// to 0..1, resizing to the target dimensions.
func GrayToFloat32(img *image.Gray, targetW, targetH int) []float32 {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	data := make([]float32, targetH*targetW)
	if srcW == 0 || srcH == 0 {
		return data
	}

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			sx := b.Min.X + x*srcW/targetW
			sy := b.Min.Y + y*srcH/targetH
			data[y*targetW+x] = float32(img.GrayAt(sx, sy).Y) / 255.0
		}
	}
	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for
// model input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// CropFace extracts a face region with 10% padding on each side.
// Returns nil when the box collapses after clamping.
func CropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}

// ToGray converts any image to 8-bit grayscale using the luminance
// weights of the stdlib color model.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return dst
}

// CropGray extracts a rectangular patch from a grayscale image, clamped
// to its bounds. Used for eye patches around detector landmarks.
func CropGray(img *image.Gray, cx, cy, w, h int) *image.Gray {
	b := img.Bounds()
	x1 := cx - w/2
	y1 := cy - h/2
	x2 := x1 + w
	y2 := y1 + h
	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	if x2 <= x1 || y2 <= y1 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	return img.SubImage(image.Rect(x1, y1, x2, y2)).(*image.Gray)
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

func exp32(v float32) float32 {
	return float32(math.Exp(float64(v)))
}
