package capture

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
)

var ErrTooFewFrames = errors.New("motion analysis needs at least two frames")

// motionThreshold is the mean absolute frame difference above which a frame
// sequence counts as live motion.
const motionThreshold = 5.0

// QualityMetrics are the raw measurements behind QualityScore.
type QualityMetrics struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	FaceSize   float64 `json:"face_size"` // percent of frame area
}

// MeasureQuality computes quality metrics on the 128x128 grayscale frame.
// det may be nil, in which case FaceSize is zero.
func MeasureQuality(img image.Image, det *Detection) QualityMetrics {
	g := toGray(img, blurSize)

	var sum, sumSq float64
	n := float64(blurSize * blurSize)
	for _, p := range g.Pix {
		v := float64(p)
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	m := QualityMetrics{
		Brightness: mean,
		Contrast:   math.Sqrt(math.Max(0, sumSq/n-mean*mean)),
		Sharpness:  laplacianVariance(g),
	}

	if det != nil {
		b := img.Bounds()
		area := float64(b.Dx() * b.Dy())
		if area > 0 {
			m.FaceSize = det.Width() * det.Height() / area * 100
		}
	}
	return m
}

func laplacianVariance(g *image.Gray) float64 {
	var sum, sumSq, n float64
	for y := 1; y < blurSize-1; y++ {
		for x := 1; x < blurSize-1; x++ {
			c := 4 * float64(g.GrayAt(x, y).Y)
			l := c - float64(g.GrayAt(x-1, y).Y) - float64(g.GrayAt(x+1, y).Y) -
				float64(g.GrayAt(x, y-1).Y) - float64(g.GrayAt(x, y+1).Y)
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// QualityScore folds the metrics into 0-100 using four 25-point buckets.
func QualityScore(m QualityMetrics) float64 {
	score := bucket(m.Brightness >= 80 && m.Brightness <= 180, m.Brightness >= 60 && m.Brightness <= 200)
	score += bucket(m.Contrast >= 40, m.Contrast >= 25)
	score += bucket(m.Sharpness >= 200, m.Sharpness >= 100)
	score += bucket(m.FaceSize >= 15, m.FaceSize >= 10)
	return math.Min(100, score)
}

func bucket(best, good bool) float64 {
	switch {
	case best:
		return 25
	case good:
		return 15
	default:
		return 5
	}
}

// Motion summarizes frame-to-frame change across a capture burst.
type Motion struct {
	MeanDiff   float64 `json:"mean_diff"`
	Score      float64 `json:"score"`
	Consistent bool    `json:"consistent"`
}

// MotionScore averages the mean absolute grayscale difference between
// consecutive frames. A still photo held to the camera scores near zero.
func MotionScore(frames []image.Image) (Motion, error) {
	if len(frames) < 2 {
		return Motion{}, ErrTooFewFrames
	}
	prev := toGray(frames[0], brightnessSize)
	var total float64
	for _, f := range frames[1:] {
		cur := toGray(f, brightnessSize)
		var diff float64
		for i := range cur.Pix {
			diff += math.Abs(float64(cur.Pix[i]) - float64(prev.Pix[i]))
		}
		total += diff / float64(len(cur.Pix))
		prev = cur
	}
	avg := total / float64(len(frames)-1)
	return Motion{
		MeanDiff:   avg,
		Score:      math.Min(100, avg*10),
		Consistent: avg > motionThreshold,
	}, nil
}

// Reflection describes how much a frame looks like a replay on a screen:
// large saturated areas or almost no variation in value.
type Reflection struct {
	SaturationRatio float64 `json:"saturation_ratio"`
	ValueStd        float64 `json:"value_std"`
	Suspected       bool    `json:"suspected"`
	Confidence      float64 `json:"confidence"`
}

const (
	reflectionSaturation = 200
	reflectionRatio      = 0.3
	reflectionMinStd     = 20
)

// ScreenReflection measures HSV saturation and value on a 64x64 downsample.
// Saturation and value use the 0-255 scale.
func ScreenReflection(img image.Image) Reflection {
	dst := image.NewRGBA(image.Rect(0, 0, brightnessSize, brightnessSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var saturated int
	var sum, sumSq float64
	for i := 0; i < len(dst.Pix); i += 4 {
		r, g, b := dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]
		hi, lo := max(r, g, b), min(r, g, b)
		if hi > 0 && float64(hi-lo)/float64(hi)*255 > reflectionSaturation {
			saturated++
		}
		v := float64(hi)
		sum += v
		sumSq += v * v
	}
	n := float64(brightnessSize * brightnessSize)
	mean := sum / n

	ref := Reflection{
		SaturationRatio: float64(saturated) / n,
		ValueStd:        math.Sqrt(math.Max(0, sumSq/n-mean*mean)),
	}
	ref.Suspected = ref.SaturationRatio > reflectionRatio || ref.ValueStd < reflectionMinStd
	if ref.Suspected {
		ref.Confidence = ref.SaturationRatio * 100
	}
	return ref
}

// LivenessScore combines quality (weight 25), the anti-reflection check
// (weight 20) and motion (weight 20), rescaled to 0-100 over the parts that
// were measured. A suspected reflection loses Confidence/5 of its points.
func LivenessScore(quality float64, reflection *Reflection, motion *Motion) float64 {
	score := quality / 100 * 25
	total := 25.0
	if reflection != nil {
		r := 20.0
		if reflection.Suspected {
			r = math.Max(0, 20-reflection.Confidence/5)
		}
		score += r
		total += 20
	}
	if motion != nil {
		mv := motion.Score / 100 * 20
		if motion.Consistent {
			mv = 20
		}
		score += mv
		total += 20
	}
	return math.Min(100, score/total*100)
}
