package physics

import "math"

// Point is a position on a local tangent plane in meters (X east, Y north)
type Point struct {
	X float64
	Y float64
}

// Project maps c onto a local equirectangular plane centred on origin.
// Accurate to well under a meter over the few kilometers a zone spans.
func Project(origin, c Coordinate) Point {
	x := (c.Lon - origin.Lon) * degreesToRads * EarthRadiusM * math.Cos(origin.Lat*degreesToRads)
	y := (c.Lat - origin.Lat) * degreesToRads * EarthRadiusM
	return Point{X: x, Y: y}
}

// PointInPolygon reports whether c lies inside the polygon using ray casting.
// The polygon is implicitly closed; fewer than three vertices never contain a point.
func PointInPolygon(c Coordinate, polygon []Coordinate) bool {
	if len(polygon) < 3 {
		return false
	}
	x, y := c.Lon, c.Lat
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		xi, yi := polygon[i].Lon, polygon[i].Lat
		xj, yj := polygon[j].Lon, polygon[j].Lat
		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// DistanceToPolygonM returns the distance in meters from c to the nearest
// polygon edge. Returns +Inf for an empty polygon.
func DistanceToPolygonM(c Coordinate, polygon []Coordinate) float64 {
	if len(polygon) == 0 {
		return math.Inf(1)
	}
	if len(polygon) == 1 {
		return Distance(c, polygon[0])
	}

	best := math.Inf(1)
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		a := Project(c, polygon[j])
		b := Project(c, polygon[i])
		if d := distanceToSegment(Point{}, a, b); d < best {
			best = d
		}
		j = i
	}
	return best
}

func distanceToSegment(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

// Centroid returns the vertex average of a polygon
func Centroid(polygon []Coordinate) Coordinate {
	if len(polygon) == 0 {
		return Coordinate{}
	}
	var lat, lon float64
	for _, p := range polygon {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(polygon))
	return Coordinate{Lat: lat / n, Lon: lon / n}
}
