package service

import (
	"math"

	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/models"
	"github.com/shopspring/decimal"
)

// roadFactor converts straight-line distance into an expected road distance.
const roadFactor = 1.3

// FareConfig holds the reference pricing for each service type
type FareConfig struct {
	BaseFare   decimal.Decimal
	PerKmRate  decimal.Decimal
	PerMinRate decimal.Decimal
	MinFare    decimal.Decimal
}

func fare(base, perKm, perMin, min string) FareConfig {
	return FareConfig{
		BaseFare:   decimal.RequireFromString(base),
		PerKmRate:  decimal.RequireFromString(perKm),
		PerMinRate: decimal.RequireFromString(perMin),
		MinFare:    decimal.RequireFromString(min),
	}
}

var fareConfigs = map[string]FareConfig{
	models.ServiceTow:          fare("120", "4.50", "0.50", "150"),
	models.ServiceWinch:        fare("150", "5.00", "0.60", "180"),
	models.ServiceJumpStart:    fare("80", "2.00", "0", "80"),
	models.ServiceTireChange:   fare("90", "2.00", "0", "90"),
	models.ServiceFuelDelivery: fare("70", "2.50", "0", "70"),
	models.ServiceLockout:      fare("100", "2.00", "0", "100"),
}

// PricingService estimates distance, duration and a suggested fare shown next to bids.
type PricingService interface {
	SuggestedFare(serviceType string, distanceKm float64, durationMins int) decimal.Decimal
	EstimateDistance(origin, destination geo.Point) float64
	EstimateDuration(distanceKm float64) int
}

type pricingService struct{}

func NewPricingService() PricingService {
	return &pricingService{}
}

func (s *pricingService) SuggestedFare(serviceType string, distanceKm float64, durationMins int) decimal.Decimal {
	config, exists := fareConfigs[serviceType]
	if !exists {
		config = fareConfigs[models.ServiceTow]
	}

	distanceFare := config.PerKmRate.Mul(decimal.NewFromFloat(distanceKm))
	timeFare := config.PerMinRate.Mul(decimal.NewFromInt(int64(durationMins)))
	total := config.BaseFare.Add(distanceFare).Add(timeFare)

	if total.LessThan(config.MinFare) {
		total = config.MinFare
	}
	return total.Round(2)
}

// EstimateDistance scales the great-circle distance by the road factor
func (s *pricingService) EstimateDistance(origin, destination geo.Point) float64 {
	return round(geo.DistanceKm(origin, destination) * roadFactor)
}

// EstimateDuration assumes 25 km/h for a loaded tow truck in traffic, minimum 5 minutes
func (s *pricingService) EstimateDuration(distanceKm float64) int {
	durationMins := int(math.Ceil(distanceKm / 25.0 * 60))
	if durationMins < 5 {
		durationMins = 5
	}
	return durationMins
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
