// Package geo holds the coordinate math shared by the store, the discovery
// engine and the schematic renderer.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by Haversine.
	EarthRadiusMeters = 6371000.0

	// MetersPerDegree is the equirectangular scale for one degree of latitude.
	MetersPerDegree = 111320.0
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports whether the coordinate lies in the valid lat/lon range.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return fmt.Errorf("coordinate is NaN")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f, %.4f", c.Latitude, c.Longitude)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coordinate) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Offset returns the local east/north displacement of target from origin in
// meters, using the equirectangular approximation around origin's latitude.
func Offset(origin, target Coordinate) (east, north float64) {
	north = (target.Latitude - origin.Latitude) * MetersPerDegree
	east = (target.Longitude - origin.Longitude) * MetersPerDegree * math.Cos(toRadians(origin.Latitude))
	return east, north
}

// Displace returns the coordinate east/north meters away from origin,
// the inverse of Offset.
func Displace(origin Coordinate, east, north float64) Coordinate {
	lat := origin.Latitude + north/MetersPerDegree
	lon := origin.Longitude
	if cos := math.Cos(toRadians(origin.Latitude)); cos > 1e-12 {
		lon += east / (MetersPerDegree * cos)
	}
	return Coordinate{Latitude: lat, Longitude: lon}
}

// BoundingBox is an inclusive latitude/longitude rectangle.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether c lies inside the box, edges included.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon
}

// BoxDegrees returns a box extending radius degrees in each direction.
func BoxDegrees(center Coordinate, radius float64) BoundingBox {
	return BoundingBox{
		MinLat: center.Latitude - radius,
		MaxLat: center.Latitude + radius,
		MinLon: center.Longitude - radius,
		MaxLon: center.Longitude + radius,
	}
}

// BoxMeters returns a box extending radius meters in each direction. The
// longitude span widens with latitude; near the poles it covers all longitudes.
func BoxMeters(center Coordinate, radius float64) BoundingBox {
	dLat := radius / MetersPerDegree
	box := BoundingBox{
		MinLat: math.Max(center.Latitude-dLat, -90),
		MaxLat: math.Min(center.Latitude+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}

	cos := math.Cos(toRadians(center.Latitude))
	if cos < 1e-9 {
		return box
	}
	dLon := radius / (MetersPerDegree * cos)
	if dLon >= 180 {
		return box
	}
	box.MinLon = center.Longitude - dLon
	box.MaxLon = center.Longitude + dLon
	return box
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
