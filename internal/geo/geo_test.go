package geo

import (
	"math"
	"testing"

	"github.com/example/transit-dispatch/internal/models"
)

func TestDistanceZeroAndSymmetric(t *testing.T) {
	a := models.LatLng{Lat: -27.613, Lng: -48.655}
	b := models.LatLng{Lat: -27.595, Lng: -48.548}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
	if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceKnownSpan(t *testing.T) {
	// Palhoça center to Florianópolis center is roughly 10.7 km.
	a := models.LatLng{Lat: -27.613, Lng: -48.655}
	b := models.LatLng{Lat: -27.595, Lng: -48.548}
	d := Distance(a, b)
	if d < 10000 || d > 12000 {
		t.Fatalf("unexpected distance %f", d)
	}
}

func TestETAMinutes(t *testing.T) {
	if got := ETAMinutes(0, 30); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	// 1000 m at 60 km/h = 1 minute
	if got := ETAMinutes(1000, 60); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	// zero speed floors at 1 km/h, never panics or returns negative
	if got := ETAMinutes(1000, 0); got < 0 {
		t.Fatalf("negative eta %d", got)
	}
}

func TestNearestIndexTieBreak(t *testing.T) {
	pts := []models.LatLng{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}
	if got := NearestIndex(pts, 1, 1); got != 0 {
		t.Fatalf("tie should resolve to lowest index, got %d", got)
	}
}

func TestDistanceAlongWrapsAndTerminates(t *testing.T) {
	pts := []models.LatLng{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.01},
		{Lat: 0, Lng: 0.02},
	}
	forward := DistanceAlong(pts, 0, 2)
	if forward <= 0 {
		t.Fatalf("expected positive distance, got %f", forward)
	}
	// wrapping walk: 2 -> 0 goes through the closing segment
	wrapped := DistanceAlong(pts, 2, 0)
	if wrapped <= 0 {
		t.Fatalf("expected positive wrapped distance, got %f", wrapped)
	}
	// out-of-range indices are normalized, not looped on
	if got := DistanceAlong(pts, 0, 5); got != DistanceAlong(pts, 0, 2) {
		t.Fatalf("index normalization broken: %f", got)
	}
}
