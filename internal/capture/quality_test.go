package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"
)

func uniform(size int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// checker draws 4px squares alternating between lo and hi.
func checker(size int, lo, hi uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := lo
			if (x/4+y/4)%2 == 1 {
				v = hi
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func goodFace() *Detection {
	return &Detection{Box: [4]float32{20, 20, 108, 108}, Confidence: 0.92}
}

func TestAssessGateOrder(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	sharp := checker(128, 60, 200)

	tests := []struct {
		name  string
		frame image.Image
		det   *Detection
		ok    bool
		gate  string
		msg   string
	}{
		{"no face", sharp, nil, false, GateDetection, MsgPositionFace},
		{"below floor", sharp, &Detection{Box: goodFace().Box, Confidence: 0.3}, false, GateDetection, MsgPositionFace},
		{"below minimum", sharp, &Detection{Box: goodFace().Box, Confidence: 0.5}, false, GateDetection, MsgLowQuality},
		{"confidence beats size and blur", uniform(128, 128), &Detection{Box: [4]float32{0, 0, 5, 5}, Confidence: 0.5}, false, GateDetection, MsgLowQuality},
		{"face too small", sharp, &Detection{Box: [4]float32{10, 10, 30, 90}, Confidence: 0.9}, false, GateSize, MsgMoveCloser},
		{"size beats blur", uniform(128, 128), &Detection{Box: [4]float32{0, 0, 10, 10}, Confidence: 0.9}, false, GateSize, MsgMoveCloser},
		{"uniform frame is blurry", uniform(128, 128), goodFace(), false, GateBlur, MsgBlurry},
		{"dark but sharp", checker(128, 0, 60), goodFace(), false, GateBrightness, MsgTooDark},
		{"bright but sharp", checker(128, 200, 255), goodFace(), false, GateBrightness, MsgTooBright},
		{"all gates pass", sharp, goodFace(), true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Assess(tt.frame, tt.det)
			require.NoError(t, err)
			require.Equal(t, tt.ok, res.OK)
			require.Equal(t, tt.gate, res.Gate)
			require.Equal(t, tt.msg, res.Message)
		})
	}
}

func TestAssessEmptyFrame(t *testing.T) {
	_, err := NewAssessor(Config{}).Assess(image.NewGray(image.Rect(0, 0, 0, 0)), goodFace())
	require.ErrorIs(t, err, ErrEmptyFrame)
}

func TestBlurAndBrightnessMeasures(t *testing.T) {
	require.Zero(t, BlurVariance(uniform(128, 90)))
	require.Greater(t, BlurVariance(checker(128, 60, 200)), 1000.0)

	require.InDelta(t, 90, Brightness(uniform(128, 90)), 0.5)
	require.InDelta(t, 90, Brightness(uniform(640, 90)), 0.5)
	require.InDelta(t, 30, Brightness(checker(128, 0, 60)), 3)
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		m    QualityMetrics
		want float64
	}{
		{QualityMetrics{Brightness: 120, Contrast: 50, Sharpness: 250, FaceSize: 20}, 100},
		{QualityMetrics{Brightness: 190, Contrast: 30, Sharpness: 150, FaceSize: 12}, 60},
		{QualityMetrics{Brightness: 10, Contrast: 5, Sharpness: 10, FaceSize: 1}, 20},
		{QualityMetrics{Brightness: 80, Contrast: 24.9, Sharpness: 200, FaceSize: 10}, 25 + 5 + 25 + 15},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, QualityScore(tt.m), "%+v", tt.m)
	}
}

func TestMeasureQuality(t *testing.T) {
	m := MeasureQuality(checker(128, 60, 200), goodFace())
	require.InDelta(t, 130, m.Brightness, 1)
	require.InDelta(t, 70, m.Contrast, 1)
	require.Greater(t, m.Sharpness, 200.0)
	require.InDelta(t, 88.0*88.0/(128*128)*100, m.FaceSize, 0.01)

	flat := MeasureQuality(uniform(128, 128), nil)
	require.Zero(t, flat.Contrast)
	require.Zero(t, flat.Sharpness)
	require.Zero(t, flat.FaceSize)
}

func TestMotionScore(t *testing.T) {
	_, err := MotionScore([]image.Image{uniform(64, 0)})
	require.ErrorIs(t, err, ErrTooFewFrames)

	still, err := MotionScore([]image.Image{uniform(64, 100), uniform(64, 100), uniform(64, 100)})
	require.NoError(t, err)
	require.Zero(t, still.Score)
	require.False(t, still.Consistent)

	moving, err := MotionScore([]image.Image{uniform(64, 100), uniform(64, 108), uniform(64, 100)})
	require.NoError(t, err)
	require.InDelta(t, 8, moving.MeanDiff, 1e-9)
	require.InDelta(t, 80, moving.Score, 1e-9)
	require.True(t, moving.Consistent)
}

func TestLivenessScore(t *testing.T) {
	require.Equal(t, 60.0, LivenessScore(60, nil, nil))
	require.InDelta(t, 100, LivenessScore(100, &Reflection{}, &Motion{Score: 100, Consistent: true}), 1e-9)

	// 25 quality points of 45, no motion.
	require.InDelta(t, 25.0/45*100, LivenessScore(100, nil, &Motion{}), 1e-9)

	// A fully saturated replay loses all 20 reflection points.
	replay := &Reflection{Suspected: true, SaturationRatio: 1, Confidence: 100}
	require.InDelta(t, 25.0/45*100, LivenessScore(100, replay, nil), 1e-9)
	require.InDelta(t, 100, LivenessScore(100, &Reflection{}, nil), 1e-9)
}

func TestScreenReflection(t *testing.T) {
	red := image.NewRGBA(image.Rect(0, 0, 96, 96))
	draw.Draw(red, red.Bounds(), &image.Uniform{C: color.RGBA{R: 250, G: 10, B: 20, A: 255}}, image.Point{}, draw.Src)

	flat := ScreenReflection(red)
	require.True(t, flat.Suspected)
	require.InDelta(t, 1, flat.SaturationRatio, 1e-9)
	require.InDelta(t, 0, flat.ValueStd, 1e-6)
	require.InDelta(t, 100, flat.Confidence, 1e-9)

	live := ScreenReflection(checker(128, 60, 200))
	require.False(t, live.Suspected)
	require.Zero(t, live.SaturationRatio)
	require.Greater(t, live.ValueStd, 20.0)
	require.Zero(t, live.Confidence)
}

func TestDecodeFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checker(32, 0, 255)))

	img, err := DecodeFrame(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 32, img.Bounds().Dx())

	_, err = DecodeFrame([]byte("not an image"))
	require.Error(t, err)

	_, err = DecodeFrame(nil)
	require.ErrorIs(t, err, ErrEmptyFrame)
}
