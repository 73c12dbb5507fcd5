// Package route — geo contains pure geographic computation helpers.
package route

import (
	"math"

	"trackd/internal/types"
)

const (
	earthRadiusM = 6371000.0
	// metres per degree of latitude; longitude degrees shrink by cos(lat).
	metresPerDegree = earthRadiusM * math.Pi / 180.0
)

// DistanceMeters returns the great-circle distance between a and b.
func DistanceMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// plane is a local equirectangular projection centred on an anchor point.
// Accurate to well under a metre over a city-sized delivery.
type plane struct {
	anchor types.Point
	cosLat float64
}

func newPlane(anchor types.Point) plane {
	return plane{anchor: anchor, cosLat: math.Cos(degreesToRadians(anchor.Lat))}
}

func (p plane) toXY(pt types.Point) (x, y float64) {
	return (pt.Lng - p.anchor.Lng) * metresPerDegree * p.cosLat,
		(pt.Lat - p.anchor.Lat) * metresPerDegree
}

func (p plane) toPoint(x, y float64) types.Point {
	return types.Point{
		Lat: p.anchor.Lat + y/metresPerDegree,
		Lng: p.anchor.Lng + x/(metresPerDegree*p.cosLat),
	}
}
