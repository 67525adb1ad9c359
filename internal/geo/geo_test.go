package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine_OneDegreeLongitudeAtEquator(t *testing.T) {
	d := Haversine(Point{Lat: 0, Lng: 0}, Point{Lat: 0, Lng: 1})
	assert.InDelta(t, 111195, d, 50, "one degree of longitude at the equator")
}

func TestHaversine_ZeroDistance(t *testing.T) {
	p := Point{Lat: 48.8584, Lng: 2.2945}
	assert.Equal(t, float64(0), Haversine(p, p))
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Point{Lat: 12.97, Lng: 77.59}
	b := Point{Lat: 13.08, Lng: 80.27}
	assert.InDelta(t, Haversine(a, b), Haversine(b, a), 0.001)
}

func TestDistanceMeters_NilSides(t *testing.T) {
	p := &Point{Lat: 1, Lng: 1}
	assert.Nil(t, DistanceMeters(nil, p))
	assert.Nil(t, DistanceMeters(p, nil))
	assert.Nil(t, DistanceMeters(nil, nil))
}

func TestDistanceMeters_Rounded(t *testing.T) {
	d := DistanceMeters(&Point{Lat: 0, Lng: 0}, &Point{Lat: 0, Lng: 1})
	if assert.NotNil(t, d) {
		assert.Equal(t, *d, float64(int64(*d)), "distance should be rounded to whole meters")
		assert.InDelta(t, 111195, *d, 50)
	}
}
