package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/metrics"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/repository"
	"github.com/google/uuid"
)

// TripService runs an accepted bid from confirmation to completion or cancellation.
type TripService interface {
	// CreateFromBid must be called inside the transaction that accepted bid.
	CreateFromBid(ctx context.Context, tr *models.TripRequest, bid *models.Bid) (*models.ActiveTrip, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.ActiveTrip, error)
	ListForUser(ctx context.Context, actor models.Actor, limit int) ([]*models.ActiveTrip, error)
	Advance(ctx context.Context, actor models.Actor, id string, req *models.AdvanceTripRequest) (*models.ActiveTrip, error)
	Rate(ctx context.Context, actor models.Actor, id string, req *models.RateTripRequest) (*models.ActiveTrip, error)
}

type tripService struct {
	tx            repository.Transactor
	tripRepo      repository.ActiveTripRepository
	requestRepo   repository.TripRequestRepository
	driverRepo    repository.DriverRepository
	credits       CreditService
	notifications NotificationService
	policy        Policy
}

func NewTripService(
	tx repository.Transactor,
	tripRepo repository.ActiveTripRepository,
	requestRepo repository.TripRequestRepository,
	driverRepo repository.DriverRepository,
	credits CreditService,
	notifications NotificationService,
	policy Policy,
) TripService {
	return &tripService{
		tx:            tx,
		tripRepo:      tripRepo,
		requestRepo:   requestRepo,
		driverRepo:    driverRepo,
		credits:       credits,
		notifications: notifications,
		policy:        policy,
	}
}

func (s *tripService) CreateFromBid(ctx context.Context, tr *models.TripRequest, bid *models.Bid) (*models.ActiveTrip, error) {
	trip := &models.ActiveTrip{
		ID:            uuid.New().String(),
		TripRequestID: tr.ID,
		BidID:         bid.ID,
		DriverID:      bid.DriverID,
		ClientID:      tr.ClientID,
		FinalPrice:    bid.Amount,
		CreatedAt:     s.policy.now(),
	}
	if err := s.tripRepo.Create(ctx, trip); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.ConcurrencyConflict("trip already exists for this request")
		}
		return nil, apperrors.Internal("failed to create trip", err)
	}
	return trip, nil
}

func (s *tripService) Get(ctx context.Context, actor models.Actor, id string) (*models.ActiveTrip, error) {
	trip, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !trip.IsParticipant(actor.UserID) {
		return nil, apperrors.Forbidden("not a participant of this trip")
	}
	return trip, nil
}

func (s *tripService) ListForUser(ctx context.Context, actor models.Actor, limit int) ([]*models.ActiveTrip, error) {
	trips, err := s.tripRepo.ListForUser(ctx, actor.UserID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Internal("failed to list trips", err)
	}
	if trips == nil {
		trips = []*models.ActiveTrip{}
	}
	return trips, nil
}

// Advance moves the trip one step. Drivers drive the lifecycle, clients may only
// cancel, admins may do either. Completion charges the driver in the same transaction.
func (s *tripService) Advance(ctx context.Context, actor models.Actor, id string, req *models.AdvanceTripRequest) (*models.ActiveTrip, error) {
	trip, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	to := req.Status
	switch {
	case actor.IsAdmin():
	case actor.UserID == trip.DriverID:
	case actor.UserID == trip.ClientID:
		if to != models.TripStatusCancelled {
			return nil, apperrors.Forbidden("clients can only cancel a trip")
		}
	default:
		return nil, apperrors.Forbidden("not a participant of this trip")
	}

	from := trip.Status
	if !trip.CanTransitionTo(to) {
		return nil, apperrors.InvalidTransition(from, to)
	}
	if to == models.TripStatusCancelled && from == models.TripStatusInProgress && req.Reason == "" {
		return nil, apperrors.Validation("a reason is required to cancel a trip in progress")
	}

	now := s.policy.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		switch to {
		case models.TripStatusCancelled:
			var reason *string
			if req.Reason != "" {
				reason = &req.Reason
			}
			ok, err := s.tripRepo.Cancel(ctx, trip.ID, from, actor, reason, now)
			if err := expectOne(ok, err, "failed to cancel trip"); err != nil {
				return err
			}
			if err := s.closeRequest(ctx, trip.TripRequestID, models.RequestStatusCancelled, reason); err != nil {
				return err
			}

		case models.TripStatusCompleted:
			ok, err := s.tripRepo.TransitionStatus(ctx, trip.ID, from, to, now)
			if err := expectOne(ok, err, "failed to complete trip"); err != nil {
				return err
			}
			if _, err := s.credits.ChargeForTrip(ctx, trip.DriverID, trip.ID, s.policy.CostPerTrip); err != nil {
				return err
			}
			if err := s.closeRequest(ctx, trip.TripRequestID, models.RequestStatusCompleted, nil); err != nil {
				return err
			}
			if err := s.driverRepo.IncrementTotalTrips(ctx, trip.DriverID); err != nil {
				return apperrors.Internal("failed to update driver trip count", err)
			}

		default:
			ok, err := s.tripRepo.TransitionStatus(ctx, trip.ID, from, to, now)
			if err := expectOne(ok, err, "failed to update trip status"); err != nil {
				return err
			}
		}

		return s.notifyTransition(ctx, actor, trip, to)
	})
	if err != nil {
		return nil, err
	}

	metrics.TripTransitions.WithLabelValues(to).Inc()
	slog.InfoContext(ctx, "trip status changed",
		"trip_id", trip.ID, "from", from, "to", to, "actor_id", actor.UserID, "actor_role", actor.Role)

	return s.load(ctx, id)
}

// Rate records one side's rating once the trip is completed. Each side rates once.
func (s *tripService) Rate(ctx context.Context, actor models.Actor, id string, req *models.RateTripRequest) (*models.ActiveTrip, error) {
	trip, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !trip.IsParticipant(actor.UserID) {
		return nil, apperrors.Forbidden("not a participant of this trip")
	}
	if trip.Status != models.TripStatusCompleted {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonTripNotCompleted, "only completed trips can be rated")
	}

	var feedback *string
	if req.Feedback != "" {
		feedback = &req.Feedback
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if actor.UserID == trip.ClientID {
			ok, err := s.tripRepo.SetClientRating(ctx, trip.ID, req.Rating, feedback)
			if err != nil {
				return apperrors.Internal("failed to rate trip", err)
			}
			if !ok {
				return apperrors.PreconditionFailed(apperrors.ReasonAlreadyRated, "trip already rated")
			}
			if err := s.driverRepo.AddRating(ctx, trip.DriverID, req.Rating); err != nil {
				return apperrors.Internal("failed to update driver rating", err)
			}
			return nil
		}

		ok, err := s.tripRepo.SetDriverRating(ctx, trip.ID, req.Rating, feedback)
		if err != nil {
			return apperrors.Internal("failed to rate trip", err)
		}
		if !ok {
			return apperrors.PreconditionFailed(apperrors.ReasonAlreadyRated, "trip already rated")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// closeRequest moves the originating request out of active.
func (s *tripService) closeRequest(ctx context.Context, requestID, to string, reason *string) error {
	tr, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		return apperrors.Internal("failed to load trip request", err)
	}
	if tr == nil {
		return apperrors.NotFound("trip request")
	}
	ok, err := s.requestRepo.TransitionStatus(ctx, tr.ID, tr.Version, models.RequestStatusActive, to, reason)
	return expectOne(ok, err, "failed to update trip request")
}

func (s *tripService) notifyTransition(ctx context.Context, actor models.Actor, trip *models.ActiveTrip, to string) error {
	notifType, title := models.NotificationTripStatus, "Trip updated"
	switch to {
	case models.TripStatusInProgress:
		notifType, title = models.NotificationTripStarted, "Trip started"
	case models.TripStatusCompleted:
		notifType, title = models.NotificationTripCompleted, "Trip completed"
	case models.TripStatusCancelled:
		notifType, title = models.NotificationTripCancelled, "Trip cancelled"
	}

	recipients := []string{trip.Counterparty(actor.UserID)}
	if !trip.IsParticipant(actor.UserID) {
		recipients = []string{trip.ClientID, trip.DriverID}
	}
	for _, userID := range recipients {
		_, err := s.notifications.Emit(ctx, userID, notifType, title,
			fmt.Sprintf("Trip is now %s", to),
			models.JSONMap{"trip_id": trip.ID, "trip_request_id": trip.TripRequestID, "status": to})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *tripService) load(ctx context.Context, id string) (*models.ActiveTrip, error) {
	trip, err := s.tripRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load trip", err)
	}
	if trip == nil {
		return nil, apperrors.NotFound("trip")
	}
	return trip, nil
}

// expectOne turns a conditional update result into an error. Zero rows means
// someone else moved the row first.
func expectOne(ok bool, err error, msg string) error {
	if err != nil {
		return apperrors.Internal(msg, err)
	}
	if !ok {
		return apperrors.ConcurrencyConflict("state changed concurrently, reload and retry")
	}
	return nil
}
