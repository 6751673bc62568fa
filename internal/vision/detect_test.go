package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	require.InDelta(t, 1.0, iou(a, a), 1e-6)
	require.InDelta(t, 0.0, iou(a, [4]float32{20, 20, 30, 30}), 1e-6)
	// 5x10 overlap, union 150
	require.InDelta(t, 50.0/150.0, iou(a, [4]float32{5, 0, 15, 10}), 1e-6)
}

func TestNMSKeepsBestOfOverlap(t *testing.T) {
	faces := []Face{
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.7},
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.9},
		{BBox: [4]float32{100, 100, 120, 120}, Confidence: 0.8},
	}
	kept := nms(faces, nmsIoU)
	require.Len(t, kept, 2)
	require.Equal(t, float32(0.9), kept[0].Confidence)
	require.Equal(t, float32(0.8), kept[1].Confidence)
}

func TestProminentPrefersLargerNearTie(t *testing.T) {
	faces := []Face{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.95},
		{BBox: [4]float32{50, 50, 150, 150}, Confidence: 0.9},
		{BBox: [4]float32{200, 200, 500, 500}, Confidence: 0.5},
	}
	d := prominent(faces, image.Point{X: 5, Y: 7})
	require.NotNil(t, d)
	require.Equal(t, [4]float32{55, 57, 155, 157}, d.Box)
	require.Equal(t, float32(0.9), d.Confidence)

	require.Nil(t, prominent(nil, image.Point{}))
}

func TestDecodeSingleAnchor(t *testing.T) {
	const in = 64
	outputs := make([][]float32, 9)
	for si, stride := range strides {
		n := (in / stride) * (in / stride) * anchorsPerStride
		outputs[si] = make([]float32, n)
		outputs[si+3] = make([]float32, n*4)
		outputs[si+6] = make([]float32, n*10)
	}
	// stride 16, cell (1,1), first anchor: index (1*4+1)*2 = 10
	idx := 10
	outputs[1][idx] = 0.92
	copy(outputs[4][idx*4:], []float32{0.5, 0.5, 1, 1})

	faces := decode(outputs, in, in, 128, 128, 0.5)
	require.Len(t, faces, 1)
	// anchor at (16,16), box (8,8)-(32,32) in model space, doubled for a 128px frame
	require.Equal(t, [4]float32{16, 16, 64, 64}, faces[0].BBox)
	require.Equal(t, float32(0.92), faces[0].Confidence)
}

func TestToCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 127, B: 0, A: 255})
		}
	}
	data := toCHW(img, 2, 2, detMean, detStd)
	require.Len(t, data, 12)
	require.InDelta(t, (255-127.5)/128, data[0], 1e-4)
	require.InDelta(t, (127-127.5)/128, data[4], 1e-4)
	require.InDelta(t, -127.5/128, data[8], 1e-4)
}
