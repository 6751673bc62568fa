package capture

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Gate names, in evaluation order.
const (
	GateDetection  = "detection"
	GateSize       = "size"
	GateBlur       = "blur"
	GateBrightness = "brightness"
)

const (
	MsgPositionFace = "Please position your face in the frame"
	MsgLowQuality   = "Face quality too low, please hold still and face the camera"
	MsgMoveCloser   = "Please move closer to the camera"
	MsgBlurry       = "Image is blurry, please hold still"
	MsgTooDark      = "Too dark, please improve the lighting"
	MsgTooBright    = "Too bright, please reduce glare or backlight"
)

const (
	blurSize       = 128
	brightnessSize = 64
	sampleStep     = 2
)

var ErrEmptyFrame = errors.New("empty frame")

// Detection is a single face found in a frame. Box is x1, y1, x2, y2 in
// frame pixel coordinates.
type Detection struct {
	Box        [4]float32 `json:"box"`
	Confidence float32    `json:"confidence"`
}

func (d Detection) Width() float64  { return float64(d.Box[2] - d.Box[0]) }
func (d Detection) Height() float64 { return float64(d.Box[3] - d.Box[1]) }

// Detector locates the most prominent face in a frame. It returns nil when
// no face is present.
type Detector interface {
	Locate(img image.Image) (*Detection, error)
}

type Config struct {
	MinConfidence   float64
	ConfidenceFloor float64
	MinFaceRatio    float64
	BlurThreshold   float64
	MinBrightness   float64
	MaxBrightness   float64
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.65,
		ConfidenceFloor: 0.4,
		MinFaceRatio:    0.2,
		BlurThreshold:   100,
		MinBrightness:   40,
		MaxBrightness:   220,
	}
}

// Result reports the first failing gate, or OK with the measured values.
type Result struct {
	OK         bool    `json:"ok"`
	Gate       string  `json:"gate,omitempty"`
	Message    string  `json:"message,omitempty"`
	Blur       float64 `json:"blur"`
	Brightness float64 `json:"brightness"`
}

// Assessor evaluates the four capture gates.
type Assessor struct {
	cfg Config
}

// NewAssessor fills zero fields of cfg from DefaultConfig.
func NewAssessor(cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.ConfidenceFloor == 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.MinFaceRatio == 0 {
		cfg.MinFaceRatio = def.MinFaceRatio
	}
	if cfg.BlurThreshold == 0 {
		cfg.BlurThreshold = def.BlurThreshold
	}
	if cfg.MinBrightness == 0 {
		cfg.MinBrightness = def.MinBrightness
	}
	if cfg.MaxBrightness == 0 {
		cfg.MaxBrightness = def.MaxBrightness
	}
	return &Assessor{cfg: cfg}
}

// Assess runs the gates in order: detection confidence, size, blur,
// brightness. The first failure wins. A nil detection fails the detection
// gate.
func (a *Assessor) Assess(frame image.Image, det *Detection) (Result, error) {
	b := frame.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Result{}, ErrEmptyFrame
	}

	if det == nil || float64(det.Confidence) < a.cfg.ConfidenceFloor {
		return reject(GateDetection, MsgPositionFace), nil
	}
	if float64(det.Confidence) < a.cfg.MinConfidence {
		return reject(GateDetection, MsgLowQuality), nil
	}

	minSide := float64(min(b.Dx(), b.Dy()))
	need := a.cfg.MinFaceRatio * minSide
	if det.Width() < need || det.Height() < need {
		return reject(GateSize, MsgMoveCloser), nil
	}

	res := Result{
		Blur:       BlurVariance(frame),
		Brightness: Brightness(frame),
	}
	if res.Blur < a.cfg.BlurThreshold {
		res.Gate, res.Message = GateBlur, MsgBlurry
		return res, nil
	}
	if res.Brightness < a.cfg.MinBrightness {
		res.Gate, res.Message = GateBrightness, MsgTooDark
		return res, nil
	}
	if res.Brightness > a.cfg.MaxBrightness {
		res.Gate, res.Message = GateBrightness, MsgTooBright
		return res, nil
	}
	res.OK = true
	return res, nil
}

func reject(gate, msg string) Result {
	return Result{Gate: gate, Message: msg}
}

// BlurVariance downsamples to 128x128 and returns the variance of the
// gradient magnitude |gx|+|gy| over a sparse grid. Low values mean blur.
func BlurVariance(img image.Image) float64 {
	g := toGray(img, blurSize)
	var sum, sumSq, n float64
	for y := 1; y < blurSize-1; y += sampleStep {
		for x := 1; x < blurSize-1; x += sampleStep {
			gx := float64(g.GrayAt(x+1, y).Y) - float64(g.GrayAt(x-1, y).Y)
			gy := float64(g.GrayAt(x, y+1).Y) - float64(g.GrayAt(x, y-1).Y)
			m := math.Abs(gx) + math.Abs(gy)
			sum += m
			sumSq += m * m
			n++
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// Brightness downsamples to 64x64 and returns the mean luma (0-255) over a
// sparse grid.
func Brightness(img image.Image) float64 {
	g := toGray(img, brightnessSize)
	var sum, n float64
	for y := 0; y < brightnessSize; y += sampleStep {
		for x := 0; x < brightnessSize; x += sampleStep {
			sum += float64(g.GrayAt(x, y).Y)
			n++
		}
	}
	return sum / n
}

// toGray scales img to a size x size grayscale image. Frames already at the
// target size are converted without resampling.
func toGray(img image.Image, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	b := img.Bounds()
	if b.Dx() == size && b.Dy() == size {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
