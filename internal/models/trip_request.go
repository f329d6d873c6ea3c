package models

import (
	"time"

	"github.com/aditya/towbid/internal/geo"
	"github.com/shopspring/decimal"
)

// Trip request status constants
const (
	RequestStatusPending   = "pending"
	RequestStatusActive    = "active"
	RequestStatusCompleted = "completed"
	RequestStatusCancelled = "cancelled"
	RequestStatusExpired   = "expired"
)

// Valid trip request state transitions
var ValidRequestTransitions = map[string][]string{
	RequestStatusPending:   {RequestStatusActive, RequestStatusCancelled, RequestStatusExpired},
	RequestStatusActive:    {RequestStatusCompleted, RequestStatusCancelled},
	RequestStatusCompleted: {},
	RequestStatusCancelled: {},
	RequestStatusExpired:   {},
}

type Location struct {
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
	Address string  `json:"address,omitempty" validate:"max=255"`
}

func (l Location) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

type TripRequest struct {
	ID                   string          `db:"id" json:"id"`
	ClientID             string          `db:"client_id" json:"client_id"`
	ServiceType          string          `db:"service_type" json:"service_type"`
	OriginLat            float64         `db:"origin_lat" json:"origin_lat"`
	OriginLng            float64         `db:"origin_lng" json:"origin_lng"`
	OriginAddress        *string         `db:"origin_address" json:"origin_address,omitempty"`
	DestinationLat       float64         `db:"destination_lat" json:"destination_lat"`
	DestinationLng       float64         `db:"destination_lng" json:"destination_lng"`
	DestinationAddress   *string         `db:"destination_address" json:"destination_address,omitempty"`
	MaxOffer             decimal.Decimal `db:"max_offer" json:"max_offer"`
	SuggestedFare        decimal.Decimal `db:"suggested_fare" json:"suggested_fare"`
	EstimatedDistanceKm  float64         `db:"estimated_distance_km" json:"estimated_distance_km"`
	EstimatedDurationMin int             `db:"estimated_duration_mins" json:"estimated_duration_mins"`
	Notes                *string         `db:"notes" json:"notes,omitempty"`
	Status               string          `db:"status" json:"status"`
	Version              int             `db:"version" json:"version"`
	CancellationReason   *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt            time.Time       `db:"expires_at" json:"expires_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

type CreateTripRequestRequest struct {
	ServiceType string          `json:"service_type" validate:"required,oneof=tow winch jump_start tire_change fuel_delivery lockout"`
	Origin      *Location       `json:"origin" validate:"required"`
	Destination *Location       `json:"destination" validate:"required"`
	MaxOffer    decimal.Decimal `json:"max_offer"`
	Notes       string          `json:"notes,omitempty" validate:"max=500"`
}

type CancelTripRequestRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type TripRequestResponse struct {
	ID                   string          `json:"id"`
	ClientID             string          `json:"client_id"`
	Status               string          `json:"status"`
	ServiceType          string          `json:"service_type"`
	Origin               Location        `json:"origin"`
	Destination          Location        `json:"destination"`
	MaxOffer             decimal.Decimal `json:"max_offer"`
	SuggestedFare        decimal.Decimal `json:"suggested_fare"`
	EstimatedDistanceKm  float64         `json:"estimated_distance_km"`
	EstimatedDurationMin int             `json:"estimated_duration_mins"`
	Notes                *string         `json:"notes,omitempty"`
	CancellationReason   *string         `json:"cancellation_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	ExpiresAt            time.Time       `json:"expires_at"`
}

// CreateTripRequestResult is returned by request creation.
type CreateTripRequestResult struct {
	Request         *TripRequestResponse `json:"request"`
	MatchingDrivers int                  `json:"matching_drivers"`
}

// TripRequestMatch is an open request as seen by a nearby driver.
type TripRequestMatch struct {
	Request    *TripRequestResponse `json:"request"`
	DistanceKm float64              `json:"distance_km"`
}

func (r *TripRequest) Origin() geo.Point {
	return geo.Point{Lat: r.OriginLat, Lng: r.OriginLng}
}

func (r *TripRequest) Destination() geo.Point {
	return geo.Point{Lat: r.DestinationLat, Lng: r.DestinationLng}
}

// IsExpiredAt compares the stored expiry with now. It never trusts the status alone.
func (r *TripRequest) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsOpenAt reports whether the request can still take bids at now.
func (r *TripRequest) IsOpenAt(now time.Time) bool {
	return r.Status == RequestStatusPending && !r.IsExpiredAt(now)
}

// CanTransitionTo checks if a request can transition to a new status
func (r *TripRequest) CanTransitionTo(newStatus string) bool {
	return canTransition(ValidRequestTransitions, r.Status, newStatus)
}

func (r *TripRequest) ToResponse() *TripRequestResponse {
	resp := &TripRequestResponse{
		ID:          r.ID,
		ClientID:    r.ClientID,
		Status:      r.Status,
		ServiceType: r.ServiceType,
		Origin: Location{
			Lat: r.OriginLat,
			Lng: r.OriginLng,
		},
		Destination: Location{
			Lat: r.DestinationLat,
			Lng: r.DestinationLng,
		},
		MaxOffer:             r.MaxOffer,
		SuggestedFare:        r.SuggestedFare,
		EstimatedDistanceKm:  r.EstimatedDistanceKm,
		EstimatedDurationMin: r.EstimatedDurationMin,
		Notes:                r.Notes,
		CancellationReason:   r.CancellationReason,
		CreatedAt:            r.CreatedAt,
		ExpiresAt:            r.ExpiresAt,
	}

	if r.OriginAddress != nil {
		resp.Origin.Address = *r.OriginAddress
	}
	if r.DestinationAddress != nil {
		resp.Destination.Address = *r.DestinationAddress
	}

	return resp
}

func canTransition(table map[string][]string, from, to string) bool {
	validNextStates, exists := table[from]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == to {
			return true
		}
	}
	return false
}
