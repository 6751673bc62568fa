package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/your-org/faceguard/internal/config"
)

const DetectionModel = "det_10g.onnx"

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128, 128, 128}
)

// SharedLibraryPath is the ONNX Runtime library name for this platform.
func SharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Open initializes the ONNX environment and loads the face detector. The
// returned close func tears both down.
func Open(cfg config.VisionConfig) (*Detector, func(), error) {
	ort.SetSharedLibraryPath(SharedLibraryPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, nil, fmt.Errorf("init onnx runtime: %w", err)
	}

	path := filepath.Join(cfg.ModelsDir, DetectionModel)
	slog.Info("loading detection model", "path", path)
	det, err := NewDetector(path, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, nil, err
	}
	return det, func() {
		det.Close()
		_ = ort.DestroyEnvironment()
	}, nil
}

// toCHW resizes img to w x h and lays it out as normalized planar RGB:
// (pixel - mean) / std.
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(x, y)
			p := y*w + x
			data[p] = (float32(dst.Pix[i]) - mean[0]) / std[0]
			data[plane+p] = (float32(dst.Pix[i+1]) - mean[1]) / std[1]
			data[2*plane+p] = (float32(dst.Pix[i+2]) - mean[2]) / std[2]
		}
	}
	return data
}
