package handlers

import (
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceguard/internal/capture"
	"github.com/your-org/faceguard/internal/observability"
	"github.com/your-org/faceguard/pkg/dto"
)

const (
	maxFrameBytes  = 4 << 20
	maxExtraFrames = 8
)

// CaptureHandler runs the capture gates on an uploaded frame so clients
// can coach the user before extracting a descriptor.
type CaptureHandler struct {
	assessor *capture.Assessor
	detector capture.Detector
}

// NewCaptureHandler builds the handler. detector may be nil, in which case
// callers must send the face box themselves.
func NewCaptureHandler(assessor *capture.Assessor, detector capture.Detector) *CaptureHandler {
	return &CaptureHandler{assessor: assessor, detector: detector}
}

func (h *CaptureHandler) Check(c *gin.Context) {
	fh, err := c.FormFile("frame")
	if err != nil {
		badRequest(c, "frame file required")
		return
	}
	frame, err := readFrame(fh)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	det, err := h.detection(c, frame)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.assessor.Assess(frame, det)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !res.OK {
		observability.CaptureRejections.WithLabelValues(res.Gate).Inc()
	}

	quality := capture.QualityScore(capture.MeasureQuality(frame, det))
	resp := dto.CaptureCheckResponse{
		OK:           res.OK,
		Gate:         res.Gate,
		Message:      res.Message,
		QualityScore: quality,
		Blur:         res.Blur,
		Brightness:   res.Brightness,
	}
	if det != nil {
		box, conf := det.Box, det.Confidence
		resp.Box, resp.Confidence = &box, &conf
	}

	ref := capture.ScreenReflection(frame)
	resp.Reflection = &dto.Reflection{
		Suspected:       ref.Suspected,
		SaturationRatio: ref.SaturationRatio,
		ValueStd:        ref.ValueStd,
		Confidence:      ref.Confidence,
	}

	var motion *capture.Motion
	if form, err := c.MultipartForm(); err == nil && len(form.File["frames"]) > 0 {
		extra := form.File["frames"]
		if len(extra) > maxExtraFrames {
			badRequest(c, fmt.Sprintf("at most %d extra frames", maxExtraFrames))
			return
		}
		frames := []image.Image{frame}
		for _, f := range extra {
			img, err := readFrame(f)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			frames = append(frames, img)
		}
		if m, err := capture.MotionScore(frames); err == nil {
			motion = &m
		}
	}
	live := capture.LivenessScore(quality, &ref, motion)
	resp.LivenessScore = &live

	c.JSON(http.StatusOK, resp)
}

// detection uses the client's box when given, otherwise the server-side
// detector.
func (h *CaptureHandler) detection(c *gin.Context, frame image.Image) (*capture.Detection, error) {
	rawBox := c.PostForm("box")
	if rawBox == "" {
		if h.detector == nil {
			return nil, fmt.Errorf("box is required: server-side detection is not available")
		}
		return h.detector.Locate(frame)
	}

	box, err := parseBox(rawBox)
	if err != nil {
		return nil, err
	}
	conf := 1.0
	if raw := c.PostForm("confidence"); raw != "" {
		conf, err = strconv.ParseFloat(raw, 32)
		if err != nil || conf < 0 || conf > 1 {
			return nil, fmt.Errorf("confidence must be between 0 and 1")
		}
	}
	return &capture.Detection{Box: box, Confidence: float32(conf)}, nil
}

// parseBox reads "x1,y1,x2,y2".
func parseBox(raw string) ([4]float32, error) {
	var box [4]float32
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return box, fmt.Errorf("box must be x1,y1,x2,y2")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return box, fmt.Errorf("box must be x1,y1,x2,y2")
		}
		box[i] = float32(v)
	}
	if box[2] <= box[0] || box[3] <= box[1] {
		return box, fmt.Errorf("box must have positive width and height")
	}
	return box, nil
}

func readFrame(fh *multipart.FileHeader) (image.Image, error) {
	if fh.Size > maxFrameBytes {
		return nil, fmt.Errorf("frame %q too large", fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return capture.DecodeFrame(data)
}
