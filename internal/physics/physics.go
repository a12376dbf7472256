package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusM  = 6371008.8 // Mean earth radius (m)
	MetersPerNM   = 1852.0    // Meters in a nautical mile
	FeetToMeters  = 0.3048    // Conversion factor from feet to meters
	KnotsToMs     = 0.514444  // Conversion factor from Knots to m/s
	MsToKnots     = 1.94384   // Conversion factor from m/s to Knots
	degreesToRads = math.Pi / 180
)

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is within WGS84 bounds
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// Haversine returns the great-circle distance in meters between two points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * degreesToRads
	phi2 := lat2 * degreesToRads
	dPhi := (lat2 - lat1) * degreesToRads
	dLambda := (lon2 - lon1) * degreesToRads

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Distance returns the great-circle distance in meters between two coordinates
func Distance(a, b Coordinate) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// MetersToNM converts meters to nautical miles
func MetersToNM(m float64) float64 {
	return m / MetersPerNM
}

// InitialBearing returns the true bearing in degrees from a to b
func InitialBearing(a, b Coordinate) float64 {
	phi1 := a.Lat * degreesToRads
	phi2 := b.Lat * degreesToRads
	dLambda := (b.Lon - a.Lon) * degreesToRads

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return NormalizeHeading(math.Atan2(y, x) / degreesToRads)
}

// Destination returns the point reached from origin after travelling
// distanceM meters on the given true bearing
func Destination(origin Coordinate, bearingDeg, distanceM float64) Coordinate {
	delta := distanceM / EarthRadiusM
	theta := bearingDeg * degreesToRads
	phi1 := origin.Lat * degreesToRads
	lambda1 := origin.Lon * degreesToRads

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2))

	lon := math.Mod(lambda2/degreesToRads+540, 360) - 180
	return Coordinate{Lat: phi2 / degreesToRads, Lon: lon}
}

// NormalizeHeading wraps a heading into [0, 360)
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// ------------------------------------------------------------------------------------------------
// NAVIGATION PHYSICS
// ------------------------------------------------------------------------------------------------

// Vector2D represents a 2D vector (magnitude, direction)
type Vector2D struct {
	X float64 // East component
	Y float64 // North component
}

// HeadingToVector converts a heading (degrees) and magnitude to X/Y components
func HeadingToVector(headingDeg float64, magnitude float64) Vector2D {
	rad := (90 - headingDeg) * degreesToRads // Convert compass heading to math angle
	return Vector2D{
		X: magnitude * math.Cos(rad),
		Y: magnitude * math.Sin(rad),
	}
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altM float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// MagneticHeading converts a true heading to magnetic using the local declination
func MagneticHeading(trueHeading, lat, lon, altM float64, date time.Time) float64 {
	return NormalizeHeading(trueHeading - CalculateMagneticVariation(lat, lon, altM, date))
}
