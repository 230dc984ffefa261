// Package geofence compares a claimed coordinate with the venue coordinate.
package geofence

import (
	"fmt"
	"math"

	dErrors "eventlens/pkg/domain-errors"
)

const (
	earthRadiusKM   = 6371.0
	DefaultRadiusKM = 2.0
)

// Result of a geo check.
type Result string

const (
	Pass          Result = "pass"
	Fail          Result = "fail"
	Indeterminate Result = "indeterminate"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate rejects coordinates outside the valid degree ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return dErrors.New(dErrors.CodeMalformedInput, fmt.Sprintf("latitude %v out of range", c.Lat))
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return dErrors.New(dErrors.CodeMalformedInput, fmt.Sprintf("longitude %v out of range", c.Lon))
	}
	return nil
}

// Evaluation is the outcome plus the measured distance. DistanceKM is only
// meaningful when Result is not Indeterminate.
type Evaluation struct {
	Result     Result  `json:"result"`
	DistanceKM float64 `json:"distance_km"`
	RadiusKM   float64 `json:"radius_km"`
}

// Evaluate checks claimed against venue. A missing side is indeterminate.
// radiusKM <= 0 selects DefaultRadiusKM.
func Evaluate(claimed, venue *Coordinate, radiusKM float64) Evaluation {
	if radiusKM <= 0 {
		radiusKM = DefaultRadiusKM
	}
	if claimed == nil || venue == nil {
		return Evaluation{Result: Indeterminate, RadiusKM: radiusKM}
	}
	d := Haversine(*claimed, *venue)
	res := Fail
	if d <= radiusKM {
		res = Pass
	}
	return Evaluation{Result: res, DistanceKM: math.Round(d*1000) / 1000, RadiusKM: radiusKM}
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b Coordinate) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLon := rad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
