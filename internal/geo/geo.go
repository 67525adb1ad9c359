package geo

import "math"

// earthRadiusMeters is the mean Earth radius used for great-circle distances.
const earthRadiusMeters = 6371000

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	toRad := func(v float64) float64 { return v * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	la1 := toRad(a.Lat)
	la2 := toRad(b.Lat)
	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(la1)*math.Cos(la2)*math.Pow(math.Sin(dLng/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// DistanceMeters computes the rounded distance between two optional points.
// Either side missing yields nil, not an error: geolocation is advisory.
func DistanceMeters(a, b *Point) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := math.Round(Haversine(*a, *b))
	return &d
}
