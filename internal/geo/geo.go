// Package geo holds distance math and the driver lookup contract used for matching.
package geo

import (
	"context"
	"math"
	"sort"
)

const earthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a real coordinate pair.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Candidate is anything with a position and the service types it covers:
// a driver and its specialties, or a trip request and its single service type.
type Candidate struct {
	ID       string
	Location Point
	Services []string
}

func (c Candidate) Offers(serviceType string) bool {
	for _, s := range c.Services {
		if s == serviceType {
			return true
		}
	}
	return false
}

type Match struct {
	ID         string  `json:"id"`
	DistanceKm float64 `json:"distance_km"`
}

// Filter decides whether a candidate is eligible before distance is checked.
type Filter func(Candidate) bool

// OffersService keeps candidates that declare serviceType. An empty type keeps everything.
func OffersService(serviceType string) Filter {
	return func(c Candidate) bool {
		return serviceType == "" || c.Offers(serviceType)
	}
}

// OffersAny keeps candidates that share at least one service type with services.
func OffersAny(services []string) Filter {
	return func(c Candidate) bool {
		for _, s := range services {
			if c.Offers(s) {
				return true
			}
		}
		return false
	}
}

// Within scans every candidate and returns those inside radiusKm of origin,
// nearest first. Ties keep input order. No match is an empty slice.
func Within(origin Point, radiusKm float64, candidates []Candidate, keep Filter) []Match {
	matches := make([]Match, 0)
	for _, c := range candidates {
		if keep != nil && !keep(c) {
			continue
		}
		d := DistanceKm(origin, c.Location)
		if d <= radiusKm {
			matches = append(matches, Match{ID: c.ID, DistanceKm: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}

// Locator finds drivers offering serviceType within radiusKm of origin, nearest first.
type Locator interface {
	NearbyDrivers(ctx context.Context, origin Point, radiusKm float64, serviceType string) ([]Match, error)
}

// SourceFunc lists the current driver positions for a full scan.
type SourceFunc func(ctx context.Context) ([]Candidate, error)

type scanLocator struct {
	source SourceFunc
}

// NewScanLocator returns a Locator that loads every candidate and filters in memory.
func NewScanLocator(source SourceFunc) Locator {
	return &scanLocator{source: source}
}

func (l *scanLocator) NearbyDrivers(ctx context.Context, origin Point, radiusKm float64, serviceType string) ([]Match, error) {
	candidates, err := l.source(ctx)
	if err != nil {
		return nil, err
	}
	return Within(origin, radiusKm, candidates, OffersService(serviceType)), nil
}

type fallbackLocator struct {
	primary   Locator
	secondary Locator
}

// WithFallback consults primary first and falls back to secondary when primary
// errors or finds nothing. A nil primary returns secondary unchanged.
func WithFallback(primary, secondary Locator) Locator {
	if primary == nil {
		return secondary
	}
	return &fallbackLocator{primary: primary, secondary: secondary}
}

func (l *fallbackLocator) NearbyDrivers(ctx context.Context, origin Point, radiusKm float64, serviceType string) ([]Match, error) {
	matches, err := l.primary.NearbyDrivers(ctx, origin, radiusKm, serviceType)
	if err == nil && len(matches) > 0 {
		return matches, nil
	}
	return l.secondary.NearbyDrivers(ctx, origin, radiusKm, serviceType)
}
