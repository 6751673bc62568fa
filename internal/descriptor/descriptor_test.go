package descriptor

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomDescriptor(r *rand.Rand) Descriptor {
	d := make(Descriptor, Dim)
	for i := range d {
		d[i] = float32(r.NormFloat64())
	}
	return d
}

func TestNormalizeUnitLengthAndIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		d := randomDescriptor(r)
		n := Normalize(d)
		require.InDelta(t, 1.0, n.Norm(), 1e-5)

		nn := Normalize(n)
		for j := range n {
			require.InDelta(t, n[j], nn[j], 1e-6)
		}
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	zero := make(Descriptor, Dim)
	n := Normalize(zero)
	require.Equal(t, zero, n)
}

func TestDistanceSymmetricAndZeroOnSelf(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	a := Normalize(randomDescriptor(r))
	b := Normalize(randomDescriptor(r))

	ab, err := Distance(a, b)
	require.NoError(t, err)
	ba, err := Distance(b, a)
	require.NoError(t, err)
	require.InDelta(t, ab, ba, 1e-12)

	aa, err := Distance(a, a)
	require.NoError(t, err)
	require.Zero(t, aa)
}

func TestDistanceDimensionMismatch(t *testing.T) {
	_, err := Distance(make(Descriptor, Dim), make(Descriptor, 64))
	require.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestValidate(t *testing.T) {
	require.NoError(t, make(Descriptor, Dim).Validate())
	require.ErrorIs(t, make(Descriptor, 127).Validate(), ErrDimensionMismatch)

	d := make(Descriptor, Dim)
	d[5] = float32(math.NaN())
	require.ErrorIs(t, d.Validate(), ErrInvalidValue)

	d[5] = float32(math.Inf(1))
	require.ErrorIs(t, d.Validate(), ErrInvalidValue)
}

func TestAverage(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	t.Run("single sample is its normalization", func(t *testing.T) {
		s := randomDescriptor(r)
		avg, err := Average([]Descriptor{s})
		require.NoError(t, err)
		want := Normalize(s)
		for i := range want {
			require.InDelta(t, want[i], avg[i], 1e-6)
		}
	})

	t.Run("mean of poses is unit length", func(t *testing.T) {
		samples := make([]Descriptor, 7)
		for i := range samples {
			samples[i] = randomDescriptor(r)
		}
		avg, err := Average(samples)
		require.NoError(t, err)
		require.Len(t, avg, Dim)
		require.InDelta(t, 1.0, avg.Norm(), 1e-5)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Average(nil)
		require.ErrorIs(t, err, ErrNoSamples)
	})

	t.Run("bad sample", func(t *testing.T) {
		_, err := Average([]Descriptor{randomDescriptor(r), make(Descriptor, 10)})
		require.ErrorIs(t, err, ErrDimensionMismatch)
	})
}
