package catalog

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for spherical distances.
const EarthRadiusMeters = 6378100.0

// GeoPoint is a GeoJSON point. Coordinates are [lon, lat].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewGeoPoint builds a GeoJSON point from latitude and longitude.
func NewGeoPoint(lat, lon float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Lat returns the latitude.
func (g GeoPoint) Lat() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[1]
}

// Lon returns the longitude.
func (g GeoPoint) Lon() float64 {
	if len(g.Coordinates) < 1 {
		return 0
	}
	return g.Coordinates[0]
}

// Check validates the point shape and coordinate ranges.
func (g GeoPoint) Check() error {
	if g.Type != "Point" {
		return fmt.Errorf("location type must be Point, got %q", g.Type)
	}
	if len(g.Coordinates) != 2 {
		return fmt.Errorf("location needs exactly 2 coordinates, got %d", len(g.Coordinates))
	}
	lon, lat := g.Coordinates[0], g.Coordinates[1]
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	return nil
}

// String formats the point as "lat,lon".
func (g GeoPoint) String() string {
	return fmt.Sprintf("%.6f,%.6f", g.Lat(), g.Lon())
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b GeoPoint) float64 {
	lat1, lat2 := radians(a.Lat()), radians(b.Lat())
	dLat := lat2 - lat1
	dLon := radians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
