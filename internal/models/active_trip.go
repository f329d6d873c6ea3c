package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Active trip status constants
const (
	TripStatusConfirmed     = "confirmed"
	TripStatusDriverEnRoute = "driver_en_route"
	TripStatusDriverArrived = "driver_arrived"
	TripStatusInProgress    = "in_progress"
	TripStatusCompleted     = "completed"
	TripStatusCancelled     = "cancelled"
)

// Valid trip state transitions. Forward only; cancelled from any non-terminal state.
var ValidTripTransitions = map[string][]string{
	TripStatusConfirmed:     {TripStatusDriverEnRoute, TripStatusCancelled},
	TripStatusDriverEnRoute: {TripStatusDriverArrived, TripStatusCancelled},
	TripStatusDriverArrived: {TripStatusInProgress, TripStatusCancelled},
	TripStatusInProgress:    {TripStatusCompleted, TripStatusCancelled},
	TripStatusCompleted:     {},
	TripStatusCancelled:     {},
}

type ActiveTrip struct {
	ID                 string          `db:"id" json:"id"`
	TripRequestID      string          `db:"trip_request_id" json:"trip_request_id"`
	BidID              string          `db:"bid_id" json:"bid_id"`
	DriverID           string          `db:"driver_id" json:"driver_id"`
	ClientID           string          `db:"client_id" json:"client_id"`
	FinalPrice         decimal.Decimal `db:"final_price" json:"final_price"`
	Status             string          `db:"status" json:"status"`
	StartedAt          *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy        *string         `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledByRole    *string         `db:"cancelled_by_role" json:"cancelled_by_role,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ClientRating       *int            `db:"client_rating" json:"client_rating,omitempty"`
	ClientFeedback     *string         `db:"client_feedback" json:"client_feedback,omitempty"`
	DriverRating       *int            `db:"driver_rating" json:"driver_rating,omitempty"`
	DriverFeedback     *string         `db:"driver_feedback" json:"driver_feedback,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

type AdvanceTripRequest struct {
	Status string `json:"status" validate:"required,oneof=driver_en_route driver_arrived in_progress completed cancelled"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// RateTripRequest carries one side's rating of the other.
type RateTripRequest struct {
	Rating   int    `json:"rating" validate:"required,min=1,max=5"`
	Feedback string `json:"feedback,omitempty" validate:"max=1000"`
}

// CanTransitionTo checks if a trip can transition to a new status
func (t *ActiveTrip) CanTransitionTo(newStatus string) bool {
	return canTransition(ValidTripTransitions, t.Status, newStatus)
}

// IsTerminal returns true once the trip is completed or cancelled
func (t *ActiveTrip) IsTerminal() bool {
	return t.Status == TripStatusCompleted || t.Status == TripStatusCancelled
}

// IsParticipant reports whether userID is the trip's driver or client.
func (t *ActiveTrip) IsParticipant(userID string) bool {
	return userID == t.DriverID || userID == t.ClientID
}

// Counterparty returns the other participant of the trip.
func (t *ActiveTrip) Counterparty(userID string) string {
	if userID == t.DriverID {
		return t.ClientID
	}
	return t.DriverID
}
