// Package routes owns per-line waypoint geometry. A plan is either loaded
// from persisted route points or synthesized from named origin/destination
// places resolved through a static gazetteer.
package routes

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/example/transit-dispatch/internal/geo"
	"github.com/example/transit-dispatch/internal/models"
)

// Plan is an immutable ordered waypoint sequence for one line.
type Plan struct {
	LineID string
	Points []models.LatLng
}

// Len reports the number of waypoints; always >= 1 for a registered plan.
func (p *Plan) Len() int { return len(p.Points) }

// At returns the waypoint at idx modulo the plan length. A degenerate
// single-point plan collapses every index to that point.
func (p *Plan) At(idx int) models.LatLng {
	n := len(p.Points)
	return p.Points[((idx%n)+n)%n]
}

// NearestIndex locates the waypoint closest to the given position.
func (p *Plan) NearestIndex(pos models.LatLng) int {
	return geo.NearestIndex(p.Points, pos.Lat, pos.Lng)
}

// Registry maps line IDs to plans. Rebuilds swap the whole plan pointer under
// the write lock, so readers never observe a partially-updated sequence.
type Registry struct {
	mu          sync.RWMutex
	plans       map[string]*Plan
	defaultLine string
}

func NewRegistry() *Registry {
	r := &Registry{plans: make(map[string]*Plan), defaultLine: "1"}
	r.Set("1", defaultRoute1)
	r.Set("2", defaultRoute2)
	return r
}

// Set atomically replaces the plan for a line. Empty point lists are ignored;
// a plan must have at least one point.
func (r *Registry) Set(lineID string, points []models.LatLng) {
	if len(points) == 0 {
		return
	}
	cp := make([]models.LatLng, len(points))
	copy(cp, points)
	r.mu.Lock()
	r.plans[lineID] = &Plan{LineID: lineID, Points: cp}
	r.mu.Unlock()
}

// Get returns the plan for a line, or nil if none is registered.
func (r *Registry) Get(lineID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plans[lineID]
}

// GetOrDefault falls back to the default line's plan so a vehicle with no
// assignment still moves during simulation.
func (r *Registry) GetOrDefault(lineID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.plans[lineID]; ok {
		return p
	}
	return r.plans[r.defaultLine]
}

// Synthesize builds a plan from named places when a line has no persisted
// geometry. Via-points are parsed from the line name: everything after "via"
// is split on "/" and each token resolved through the gazetteer. Unresolved
// origin/destination fall back to the default anchors.
func (r *Registry) Synthesize(lineID, name, origin, destination string) *Plan {
	var via []models.LatLng
	lower := strings.ToLower(name)
	if i := strings.Index(lower, "via"); i >= 0 {
		for _, tok := range strings.Split(lower[i+3:], "/") {
			if pt, ok := lookupPlace(tok); ok {
				via = append(via, pt)
			}
		}
	}
	oPt, ok := lookupPlace(origin)
	if !ok {
		oPt = defaultOrigin
	}
	dPt, ok := lookupPlace(destination)
	if !ok {
		dPt = defaultDestination
	}
	points := make([]models.LatLng, 0, len(via)+2)
	points = append(points, oPt)
	points = append(points, via...)
	points = append(points, dPt)
	r.Set(lineID, points)
	return r.Get(lineID)
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeToken case-folds, strips accents and punctuation so that
// "Centro Palhoça!" and "centro palhoca" resolve to the same place.
func NormalizeToken(s string) string {
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func lookupPlace(name string) (models.LatLng, bool) {
	pt, ok := gazetteer[NormalizeToken(name)]
	return pt, ok
}

var (
	defaultOrigin      = models.LatLng{Lat: -27.613, Lng: -48.655} // Palhoça
	defaultDestination = models.LatLng{Lat: -27.595, Lng: -48.548} // Florianópolis
)

// Static place lookup covering the corridor the demo fleet serves.
var gazetteer = map[string]models.LatLng{
	"florianopolis":          {Lat: -27.595, Lng: -48.548},
	"centro florianopolis":   {Lat: -27.595, Lng: -48.548},
	"fpolis":                 {Lat: -27.595, Lng: -48.548},
	"palhoca":                {Lat: -27.613, Lng: -48.655},
	"centro ph":              {Lat: -27.613, Lng: -48.655},
	"ponte do imaruim":       {Lat: -27.645, Lng: -48.657},
	"rio grande":             {Lat: -27.607, Lng: -48.660},
	"pachecos":               {Lat: -27.580, Lng: -48.650},
	"bela vista":             {Lat: -27.625, Lng: -48.669},
	"portal":                 {Lat: -27.630, Lng: -48.660},
	"hospital regional":      {Lat: -27.613, Lng: -48.635},
	"via expressa":           {Lat: -27.620, Lng: -48.580},
	"br 101":                 {Lat: -27.640, Lng: -48.650},
	"fazenda":                {Lat: -27.600, Lng: -48.630},
	"aquarius":               {Lat: -27.620, Lng: -48.640},
	"eldorado":               {Lat: -27.620, Lng: -48.650},
	"shopping continente":    {Lat: -27.620, Lng: -48.620},
	"alto aririu":            {Lat: -27.622, Lng: -48.658},
	"aririu":                 {Lat: -27.628, Lng: -48.657},
	"aririu formiga":         {Lat: -27.635, Lng: -48.660},
	"barra":                  {Lat: -27.591, Lng: -48.635},
	"barreiros":              {Lat: -27.589, Lng: -48.624},
	"sao jose":               {Lat: -27.613, Lng: -48.627},
	"saojose":                {Lat: -27.613, Lng: -48.627},
	"centro sao jose":        {Lat: -27.613, Lng: -48.627},
	"aniceto zacchi":         {Lat: -27.620, Lng: -48.653},
	"claudete":               {Lat: -27.604, Lng: -48.656},
	"ivo silveira":           {Lat: -27.595, Lng: -48.570},
	"enseada":                {Lat: -27.687, Lng: -48.658},
	"marivone":               {Lat: -27.700, Lng: -48.669},
	"pontal":                 {Lat: -27.705, Lng: -48.673},
	"praia de fora":          {Lat: -27.722, Lng: -48.672},
	"area industrial":        {Lat: -27.610, Lng: -48.640},
	"fazenda santo antonio":  {Lat: -27.609, Lng: -48.633},
	"entrada do eldorado":    {Lat: -27.618, Lng: -48.648},
	"vila nova":              {Lat: -27.619, Lng: -48.659},
}

// Demo polylines used when a line has no persisted geometry.
var defaultRoute1 = []models.LatLng{
	{Lat: -27.595, Lng: -48.548}, {Lat: -27.620, Lng: -48.600}, {Lat: -27.650, Lng: -48.650},
	{Lat: -27.660, Lng: -48.660}, {Lat: -27.670, Lng: -48.670}, {Lat: -27.680, Lng: -48.670},
	{Lat: -27.690, Lng: -48.660}, {Lat: -27.640, Lng: -48.665}, {Lat: -27.613, Lng: -48.655},
}

var defaultRoute2 = []models.LatLng{
	{Lat: -27.613, Lng: -48.655}, {Lat: -27.640, Lng: -48.665}, {Lat: -27.690, Lng: -48.660},
	{Lat: -27.680, Lng: -48.670}, {Lat: -27.670, Lng: -48.670}, {Lat: -27.660, Lng: -48.660},
	{Lat: -27.650, Lng: -48.650}, {Lat: -27.620, Lng: -48.600}, {Lat: -27.595, Lng: -48.548},
}
