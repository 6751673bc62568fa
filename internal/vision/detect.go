package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceguard/internal/capture"
)

// Face is a raw RetinaFace detection in original frame coordinates.
type Face struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

func (f Face) area() float32 {
	return (f.BBox[2] - f.BBox[0]) * (f.BBox[3] - f.BBox[1])
}

// Detector runs RetinaFace (det_10g) through ONNX Runtime. The session owns
// fixed input and output tensors, so Run calls are serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

type outputSpec struct {
	name string
	rows int64
	cols int64
}

// det_10g output order: scores, boxes, landmarks, each at strides 8/16/32.
// Rows are (640/stride)^2 * anchorsPerStride.
var detOutputs = []outputSpec{
	{"448", 12800, 1}, {"471", 3200, 1}, {"494", 800, 1},
	{"451", 12800, 4}, {"474", 3200, 4}, {"497", 800, 4},
	{"454", 12800, 10}, {"477", 3200, 10}, {"500", 800, 10},
}

// NewDetector loads the model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	const inputW, inputH = 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, len(detOutputs))
	tensors := make([]*ort.Tensor[float32], len(detOutputs))
	values := make([]ort.Value, len(detOutputs))
	destroy := func() {
		inputTensor.Destroy()
		for _, t := range tensors {
			if t != nil {
				t.Destroy()
			}
		}
	}

	for i, spec := range detOutputs {
		names[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.rows, spec.cols))
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		tensors[i] = t
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath, []string{"input.1"}, names, []ort.Value{inputTensor}, values, opts)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: tensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect returns every face above the threshold after NMS, most confident
// first.
func (d *Detector) Detect(img image.Image) ([]Face, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, capture.ErrEmptyFrame
	}
	data := toCHW(img, d.inputW, d.inputH, detMean, detStd)

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), data)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	outputs := make([][]float32, len(d.outputTensors))
	for i, t := range d.outputTensors {
		outputs[i] = t.GetData()
	}
	faces := decode(outputs, d.inputW, d.inputH, b.Dx(), b.Dy(), d.threshold)
	return nms(faces, nmsIoU), nil
}

// Locate satisfies capture.Detector: it reports the most prominent face,
// or nil when none passes the threshold.
func (d *Detector) Locate(img image.Image) (*capture.Detection, error) {
	faces, err := d.Detect(img)
	if err != nil {
		return nil, err
	}
	return prominent(faces, img.Bounds().Min), nil
}

// prominent picks the largest face among those within 0.1 confidence of the
// best one and shifts it into image coordinates.
func prominent(faces []Face, origin image.Point) *capture.Detection {
	if len(faces) == 0 {
		return nil
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if best.Confidence-f.Confidence <= 0.1 && f.area() > best.area() {
			best = f
		}
	}
	ox, oy := float32(origin.X), float32(origin.Y)
	return &capture.Detection{
		Box:        [4]float32{best.BBox[0] + ox, best.BBox[1] + oy, best.BBox[2] + ox, best.BBox[3] + oy},
		Confidence: best.Confidence,
	}
}

// decode turns anchor-relative outputs into pixel boxes in the original
// frame.
func decode(outputs [][]float32, inputW, inputH, origW, origH int, threshold float32) []Face {
	var faces []Face
	scaleW := float32(origW) / float32(inputW)
	scaleH := float32(origH) / float32(inputH)

	for si, stride := range strides {
		scores, boxes, marks := outputs[si], outputs[si+3], outputs[si+6]
		st := float32(stride)
		fmW, fmH := inputW/stride, inputH/stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if idx >= len(scores) {
						break
					}
					if score := scores[idx]; score >= threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						f := Face{
							BBox: [4]float32{
								clamp((ax-boxes[idx*4]*st)*scaleW, 0, float32(origW)),
								clamp((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clamp((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clamp((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: score,
						}
						for li := 0; li < 5; li++ {
							f.Landmarks[li][0] = (ax + marks[idx*10+li*2]*st) * scaleW
							f.Landmarks[li][1] = (ay + marks[idx*10+li*2+1]*st) * scaleH
						}
						faces = append(faces, f)
					}
					idx++
				}
			}
		}
	}
	return faces
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

func nms(faces []Face, threshold float32) []Face {
	if len(faces) == 0 {
		return faces
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].Confidence > faces[j].Confidence })

	dropped := make([]bool, len(faces))
	var kept []Face
	for i := range faces {
		if dropped[i] {
			continue
		}
		kept = append(kept, faces[i])
		for j := i + 1; j < len(faces); j++ {
			if !dropped[j] && iou(faces[i].BBox, faces[j].BBox) > threshold {
				dropped[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	w := math.Max(0, math.Min(float64(a[2]), float64(b[2]))-math.Max(float64(a[0]), float64(b[0])))
	h := math.Max(0, math.Min(float64(a[3]), float64(b[3]))-math.Max(float64(a[1]), float64(b[1])))
	inter := float32(w * h)

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
