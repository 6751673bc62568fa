package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	london = Point{Lat: 51.5074, Lon: -0.1278}
	paris  = Point{Lat: 48.8566, Lon: 2.3522}
	nyc    = Point{Lat: 40.7128, Lon: -74.0060}
	sydney = Point{Lat: -33.8688, Lon: 151.2093}
)

func TestDistanceSelfIsZero(t *testing.T) {
	for _, p := range []Point{london, paris, nyc, sydney} {
		require.Zero(t, DistanceMeters(p, p))
	}
}

func TestDistanceSymmetric(t *testing.T) {
	require.InDelta(t, DistanceMeters(london, sydney), DistanceMeters(sydney, london), 1e-6)
	require.InDelta(t, DistanceMeters(paris, nyc), DistanceMeters(nyc, paris), 1e-6)
}

func TestKnownCityPairs(t *testing.T) {
	tests := []struct {
		a, b   Point
		wantKm float64
	}{
		{london, paris, 343.5},
		{london, nyc, 5570},
		{nyc, sydney, 15990},
	}
	for _, tt := range tests {
		got := DistanceKm(tt.a, tt.b)
		require.InEpsilon(t, tt.wantKm, got, 0.01, "%v -> %v", tt.a, tt.b)
	}
}

func TestNearest(t *testing.T) {
	_, ok := Nearest(london, nil)
	require.False(t, ok)

	d, ok := Nearest(london, []Point{nyc, paris, sydney})
	require.True(t, ok)
	require.InEpsilon(t, 343.5, d, 0.01)
}

func TestValid(t *testing.T) {
	require.True(t, london.Valid())
	require.False(t, Point{Lat: 91}.Valid())
	require.False(t, Point{Lon: -181}.Valid())
}
