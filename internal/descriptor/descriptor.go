package descriptor

import (
	"errors"
	"fmt"
	"math"
)

// Dim is the length every face descriptor must have.
const Dim = 128

var (
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
	ErrInvalidValue      = errors.New("descriptor contains NaN or Inf")
	ErrNoSamples         = errors.New("no descriptor samples")
)

// Descriptor is a face embedding produced by an external recognition model.
type Descriptor []float32

// Validate checks the length and that every component is finite.
func (d Descriptor) Validate() error {
	if len(d) != Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d), Dim)
	}
	for i, x := range d {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w at index %d", ErrInvalidValue, i)
		}
	}
	return nil
}

// Norm returns the L2 norm.
func (d Descriptor) Norm() float64 {
	var sum float64
	for _, x := range d {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of d. A zero vector is returned
// unchanged.
func Normalize(d Descriptor) Descriptor {
	norm := d.Norm()
	if norm == 0 {
		return d
	}
	out := make(Descriptor, len(d))
	for i, x := range d {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Distance is the Euclidean distance between two descriptors of equal length.
func Distance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// Average builds a registration template from pose samples. Each sample is
// normalized, weighted equally, and the mean is normalized again.
func Average(samples []Descriptor) (Descriptor, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	sum := make([]float64, Dim)
	for i, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		n := Normalize(s)
		for j, x := range n {
			sum[j] += float64(x)
		}
	}
	mean := make(Descriptor, Dim)
	for j := range sum {
		mean[j] = float32(sum[j] / float64(len(samples)))
	}
	return Normalize(mean), nil
}
