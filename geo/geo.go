// Package geo computes straight-line travel distance between coordinates.
package geo

import (
	"errors"
	"math"
)

// earthDiameterMiles is twice the mean Earth radius.
const earthDiameterMiles = 7917.509282

var ErrInvalidPoint = errors.New("latitude must be within [-90, 90] and longitude within [-180, 180]")

type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidPoint
	}
	return nil
}

// Distance returns the haversine distance between a and b in miles.
func Distance(a, b Point) float64 {
	const rad = math.Pi / 180
	h := 0.5 - math.Cos((b.Lat-a.Lat)*rad)/2 +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*(1-math.Cos((b.Lon-a.Lon)*rad))/2
	return earthDiameterMiles * math.Asin(math.Sqrt(h))
}
