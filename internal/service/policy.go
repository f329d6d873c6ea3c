package service

import (
	"time"

	"github.com/aditya/towbid/internal/config"
	"github.com/shopspring/decimal"
)

// Policy holds the marketplace knobs shared by the services.
type Policy struct {
	RequestTTL          time.Duration
	BidTTL              time.Duration
	MatchingRadiusKM    float64
	MaxMatchingRadiusKM float64
	CostPerTrip         decimal.Decimal
	CreditsPerUnit      decimal.Decimal

	// Now is the clock. Tests replace it.
	Now func() time.Time
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		RequestTTL:          cfg.RequestTTL,
		BidTTL:              cfg.BidTTL,
		MatchingRadiusKM:    cfg.MatchingRadiusKM,
		MaxMatchingRadiusKM: cfg.MaxMatchingRadiusKM,
		CostPerTrip:         cfg.CostPerTrip,
		CreditsPerUnit:      cfg.CreditsPerUnit,
		Now:                 time.Now,
	}
}

func (p Policy) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

// radius clamps a caller supplied radius to the configured bounds.
func (p Policy) radius(requested float64) float64 {
	if requested <= 0 {
		return p.MatchingRadiusKM
	}
	if p.MaxMatchingRadiusKM > 0 && requested > p.MaxMatchingRadiusKM {
		return p.MaxMatchingRadiusKM
	}
	return requested
}
