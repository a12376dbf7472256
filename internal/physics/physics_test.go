package physics

import (
	"math"
	"testing"
	"time"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude is ~111.2 km
	d := Haversine(0, 0, 1, 0)
	if !approx(d, 111195, 100) {
		t.Fatalf("expected ~111195 m, got %f", d)
	}
	if Haversine(45, 7, 45, 7) != 0 {
		t.Fatal("same point must have zero distance")
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	origin := Coordinate{Lat: 47.3769, Lon: 8.5417}
	for _, bearing := range []float64{0, 45, 90, 180, 270} {
		dest := Destination(origin, bearing, 500)
		if d := Distance(origin, dest); !approx(d, 500, 0.5) {
			t.Fatalf("bearing %v: expected 500 m, got %f", bearing, d)
		}
		if b := InitialBearing(origin, dest); !approx(b, bearing, 0.1) && !approx(b, bearing+360, 0.1) {
			t.Fatalf("expected bearing %v, got %f", bearing, b)
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := map[float64]float64{-10: 350, 360: 0, 725: 5, 90: 90}
	for in, want := range cases {
		if got := NormalizeHeading(in); !approx(got, want, 1e-9) {
			t.Fatalf("NormalizeHeading(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestPointInPolygon(t *testing.T) {
	square := []Coordinate{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0},
	}
	if !PointInPolygon(Coordinate{Lat: 0.5, Lon: 0.5}, square) {
		t.Fatal("centre should be inside")
	}
	if PointInPolygon(Coordinate{Lat: 1.5, Lon: 0.5}, square) {
		t.Fatal("point north of square should be outside")
	}
	if PointInPolygon(Coordinate{Lat: 0.5, Lon: 0.5}, square[:2]) {
		t.Fatal("degenerate polygon contains nothing")
	}
}

func TestDistanceToPolygon(t *testing.T) {
	origin := Coordinate{Lat: 47.0, Lon: 8.0}
	// ~200 m square whose western edge is 100 m east of origin
	sw := Destination(origin, 90, 100)
	se := Destination(sw, 90, 200)
	ne := Destination(se, 0, 200)
	nw := Destination(sw, 0, 200)
	polygon := []Coordinate{sw, se, ne, nw}

	probe := Destination(sw, 0, 100)
	probe = Destination(probe, 270, 100)

	d := DistanceToPolygonM(probe, polygon)
	if !approx(d, 100, 1) {
		t.Fatalf("expected ~100 m to western edge, got %f", d)
	}
	if !math.IsInf(DistanceToPolygonM(origin, nil), 1) {
		t.Fatal("empty polygon should be infinitely far")
	}
}

func TestMagneticVariationIsFinite(t *testing.T) {
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	d := CalculateMagneticVariation(43.68, -79.63, 100, date)
	if math.IsNaN(d) || math.Abs(d) > 30 {
		t.Fatalf("unexpected declination %f", d)
	}
	h := MagneticHeading(90, 43.68, -79.63, 100, date)
	if h < 0 || h >= 360 {
		t.Fatalf("magnetic heading out of range: %f", h)
	}
}

func TestHeadingToVector(t *testing.T) {
	v := HeadingToVector(90, 10)
	if !approx(v.X, 10, 1e-9) || !approx(v.Y, 0, 1e-9) {
		t.Fatalf("east heading should be +X, got %+v", v)
	}
}
