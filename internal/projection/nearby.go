// Package projection answers "which vehicles are approaching this stop",
// measuring distance along the route rather than as the crow flies.
package projection

import (
	"context"
	"math"
	"sort"

	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/geo"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/routes"
)

// projectionSpeedMps is the assumed travel speed for arrival estimates.
const projectionSpeedMps = 5.0

// Mirror fallback parameters when the in-process fleet is empty.
const (
	fallbackRadiusM = 10000.0
	fallbackLimit   = 50
)

type Query struct {
	Lat    float64
	Lng    float64
	Dest   *models.LatLng // optional onward destination on the same route
	LineID string         // optional line filter
	Limit  int
}

type VehicleETA struct {
	VehicleID  string  `json:"vehicle_id"`
	LineID     string  `json:"line_id"`
	Plate      string  `json:"plate,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistMeters int     `json:"dist_meters"`
	ETAMinutes int     `json:"eta_minutes"`
	ETAToDest  int     `json:"eta_to_dest,omitempty"`
	ETATotal   int     `json:"eta_total,omitempty"`
}

// Mirror is the last-known-position fallback, served from Redis GEO when
// this process tracks no vehicles itself (fresh restart, or a read-only
// replica next to the consumer).
type Mirror interface {
	Near(ctx context.Context, lat, lng, radiusM float64, limit int) []models.Vehicle
}

type Service struct {
	Fleet  *fleet.Store
	Routes *routes.Registry
	Mirror Mirror // optional
}

// Nearby projects every tracked vehicle onto its line's route and reports
// distance-so-far to the query point, sorted by ETA ascending. Vehicles
// already past the destination index are omitted when a destination is given.
func (s *Service) Nearby(ctx context.Context, q Query) []VehicleETA {
	vehicles := s.Fleet.Snapshot()
	if len(vehicles) == 0 && s.Mirror != nil {
		vehicles = s.Mirror.Near(ctx, q.Lat, q.Lng, fallbackRadiusM, fallbackLimit)
	}
	out := make([]VehicleETA, 0)
	for _, v := range vehicles {
		if q.LineID != "" && v.LineID != "" && v.LineID != q.LineID {
			continue
		}
		e, ok := s.project(v, q)
		if !ok {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ETAMinutes < out[j].ETAMinutes })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (s *Service) project(v models.Vehicle, q Query) (VehicleETA, bool) {
	e := VehicleETA{VehicleID: v.ID, LineID: v.LineID, Plate: v.Plate, Lat: v.Pos.Lat, Lng: v.Pos.Lng}

	plan := s.Routes.Get(v.LineID)
	var dist, distDest float64
	if plan != nil && plan.Len() > 1 {
		stopIdx := geo.NearestIndex(plan.Points, q.Lat, q.Lng)
		destIdx := stopIdx
		if q.Dest != nil {
			destIdx = geo.NearestIndex(plan.Points, q.Dest.Lat, q.Dest.Lng)
		}
		currIdx := v.RouteIndex
		if v.Source == models.SourceTelemetry {
			currIdx = plan.NearestIndex(v.Pos)
		}
		if q.Dest != nil && currIdx > destIdx {
			return e, false // already past the destination on this direction
		}
		dist = geo.DistanceAlong(plan.Points, currIdx, stopIdx)
		if q.Dest != nil {
			distDest = geo.DistanceAlong(plan.Points, stopIdx, destIdx)
		}
	} else {
		dist = geo.Distance(v.Pos, models.LatLng{Lat: q.Lat, Lng: q.Lng})
		if q.Dest != nil {
			distDest = geo.Distance(models.LatLng{Lat: q.Lat, Lng: q.Lng}, *q.Dest)
		}
	}

	e.DistMeters = int(math.Round(dist))
	e.ETAMinutes = int(math.Round(dist / (projectionSpeedMps * 60)))
	if q.Dest != nil {
		e.ETAToDest = int(math.Round(distDest / (projectionSpeedMps * 60)))
		e.ETATotal = e.ETAMinutes + e.ETAToDest
	}
	return e, true
}
