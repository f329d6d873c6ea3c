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

// BidService is the bid book of each trip request.
type BidService interface {
	PlaceBid(ctx context.Context, driverID, tripRequestID string, req *models.PlaceBidRequest) (*models.BidResponse, error)
	ListForRequest(ctx context.Context, actor models.Actor, tripRequestID string) ([]*models.BidResponse, error)
	ListForDriver(ctx context.Context, driverID string, limit int) ([]*models.BidResponse, error)
	// AcceptBid closes the request on one bid and creates its trip. Of two racing
	// accepts on the same request exactly one wins.
	AcceptBid(ctx context.Context, clientID, tripRequestID, bidID string) (*models.ActiveTrip, error)
	WithdrawBid(ctx context.Context, driverID, bidID string) (*models.BidResponse, error)
	ExpireBid(ctx context.Context, bidID string) (*models.BidResponse, error)
}

type bidService struct {
	tx            repository.Transactor
	bidRepo       repository.BidRepository
	requestRepo   repository.TripRequestRepository
	driverRepo    repository.DriverRepository
	credits       CreditService
	trips         TripService
	notifications NotificationService
	policy        Policy
}

func NewBidService(
	tx repository.Transactor,
	bidRepo repository.BidRepository,
	requestRepo repository.TripRequestRepository,
	driverRepo repository.DriverRepository,
	credits CreditService,
	trips TripService,
	notifications NotificationService,
	policy Policy,
) BidService {
	return &bidService{
		tx:            tx,
		bidRepo:       bidRepo,
		requestRepo:   requestRepo,
		driverRepo:    driverRepo,
		credits:       credits,
		trips:         trips,
		notifications: notifications,
		policy:        policy,
	}
}

func (s *bidService) PlaceBid(ctx context.Context, driverID, tripRequestID string, req *models.PlaceBidRequest) (*models.BidResponse, error) {
	bid, err := s.placeBid(ctx, driverID, tripRequestID, req)
	if err != nil {
		if reason := apperrors.ReasonOf(err); reason != "" {
			metrics.BidsRejected.WithLabelValues(reason).Inc()
		}
		return nil, err
	}
	metrics.BidsPlaced.Inc()
	return bid.ToResponse(), nil
}

func (s *bidService) placeBid(ctx context.Context, driverID, tripRequestID string, req *models.PlaceBidRequest) (*models.Bid, error) {
	if err := validateAmount("amount", req.Amount); err != nil {
		return nil, err
	}
	if req.EtaMinutes <= 0 {
		return nil, apperrors.Validation("eta_minutes must be greater than zero")
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to load driver", err)
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}

	tr, err := s.loadRequest(ctx, tripRequestID)
	if err != nil {
		return nil, err
	}
	now := s.policy.now()
	if err := checkRequestOpen(tr, now); err != nil {
		return nil, err
	}
	if !driver.HasSpecialty(tr.ServiceType) {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonDriverUnavailable,
			fmt.Sprintf("driver does not offer %s", tr.ServiceType))
	}

	live, err := s.bidRepo.GetLiveByRequestAndDriver(ctx, tr.ID, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to check existing bids", err)
	}
	if live != nil {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonDuplicateBid, "driver already bid on this request")
	}

	ok, err := s.credits.CanAcceptTrip(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InsufficientCredit()
	}

	bid := &models.Bid{
		ID:            uuid.New().String(),
		TripRequestID: tr.ID,
		DriverID:      driverID,
		Amount:        req.Amount,
		EtaMinutes:    req.EtaMinutes,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.policy.BidTTL),
	}
	if req.Message != "" {
		bid.Message = &req.Message
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Hold the request so an accept cannot slip in between the check and the insert.
		locked, err := s.requestRepo.GetByIDForShare(ctx, tr.ID)
		if err != nil {
			return apperrors.Internal("failed to lock trip request", err)
		}
		if locked == nil {
			return apperrors.NotFound("trip request")
		}
		if err := checkRequestOpen(locked, now); err != nil {
			return err
		}

		if err := s.bidRepo.Create(ctx, bid); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.PreconditionFailed(apperrors.ReasonDuplicateBid, "driver already bid on this request")
			}
			return apperrors.Internal("failed to create bid", err)
		}

		_, err = s.notifications.Emit(ctx, tr.ClientID, models.NotificationNewBid, "New bid",
			fmt.Sprintf("A driver offered %s, arriving in %d min", bid.Amount.StringFixed(2), bid.EtaMinutes),
			models.JSONMap{"trip_request_id": tr.ID, "bid_id": bid.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

func (s *bidService) ListForRequest(ctx context.Context, actor models.Actor, tripRequestID string) ([]*models.BidResponse, error) {
	tr, err := s.loadRequest(ctx, tripRequestID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && tr.ClientID != actor.UserID {
		return nil, apperrors.Forbidden("trip request belongs to another client")
	}

	bids, err := s.bidRepo.ListByRequest(ctx, tr.ID)
	if err != nil {
		return nil, apperrors.Internal("failed to list bids", err)
	}
	return s.present(bids), nil
}

func (s *bidService) ListForDriver(ctx context.Context, driverID string, limit int) ([]*models.BidResponse, error) {
	bids, err := s.bidRepo.ListByDriver(ctx, driverID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Internal("failed to list bids", err)
	}
	return s.present(bids), nil
}

func (s *bidService) AcceptBid(ctx context.Context, clientID, tripRequestID, bidID string) (*models.ActiveTrip, error) {
	trip, err := s.acceptBid(ctx, clientID, tripRequestID, bidID)
	switch {
	case err == nil:
		metrics.BidAccepts.WithLabelValues("accepted").Inc()
	case apperrors.IsKind(err, apperrors.KindConflict):
		metrics.BidAccepts.WithLabelValues("conflict").Inc()
	default:
		metrics.BidAccepts.WithLabelValues("refused").Inc()
	}
	return trip, err
}

func (s *bidService) acceptBid(ctx context.Context, clientID, tripRequestID, bidID string) (*models.ActiveTrip, error) {
	tr, err := s.loadRequest(ctx, tripRequestID)
	if err != nil {
		return nil, err
	}
	if tr.ClientID != clientID {
		return nil, apperrors.Forbidden("trip request belongs to another client")
	}

	bid, err := s.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.TripRequestID != tr.ID {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidMismatch, "bid does not belong to this request")
	}

	now := s.policy.now()
	if err := checkRequestOpen(tr, now); err != nil {
		return nil, err
	}
	if bid.Status != models.BidStatusPending {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is "+bid.Status)
	}
	if bid.IsExpiredAt(now) {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidExpired, "bid expired")
	}

	// Balance may have changed since the bid was placed.
	ok, err := s.credits.CanAcceptTrip(ctx, bid.DriverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InsufficientCredit()
	}

	var trip *models.ActiveTrip
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Only the caller still holding the version it read gets past this point.
		ok, err := s.requestRepo.TransitionStatus(ctx, tr.ID, tr.Version,
			models.RequestStatusPending, models.RequestStatusActive, nil)
		if err != nil {
			return apperrors.Internal("failed to activate trip request", err)
		}
		if !ok {
			return apperrors.ConcurrencyConflict("trip request changed, reload and retry")
		}

		ok, err = s.bidRepo.MarkAccepted(ctx, bid.ID, now)
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.ConcurrencyConflict("another bid was accepted first")
		}
		if err != nil {
			return apperrors.Internal("failed to accept bid", err)
		}
		if !ok {
			return apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is no longer open")
		}

		rejected, err := s.bidRepo.CloseOthers(ctx, tr.ID, bid.ID, models.BidStatusRejected, now)
		if err != nil {
			return apperrors.Internal("failed to reject other bids", err)
		}

		trip, err = s.trips.CreateFromBid(ctx, tr, bid)
		if err != nil {
			return err
		}

		_, err = s.notifications.Emit(ctx, bid.DriverID, models.NotificationBidAccepted, "Bid accepted",
			fmt.Sprintf("Your bid of %s was accepted", bid.Amount.StringFixed(2)),
			models.JSONMap{"trip_request_id": tr.ID, "bid_id": bid.ID, "trip_id": trip.ID})
		if err != nil {
			return err
		}
		for _, other := range rejected {
			_, err = s.notifications.Emit(ctx, other.DriverID, models.NotificationBidRejected, "Bid not selected",
				"The client chose another bid",
				models.JSONMap{"trip_request_id": tr.ID, "bid_id": other.ID})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "bid accepted",
		"trip_request_id", tr.ID, "bid_id", bid.ID, "driver_id", bid.DriverID, "trip_id", trip.ID,
		"amount", bid.Amount.String())
	return trip, nil
}

// WithdrawBid leaves the request pending. The driver may bid again afterwards.
func (s *bidService) WithdrawBid(ctx context.Context, driverID, bidID string) (*models.BidResponse, error) {
	bid, err := s.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.DriverID != driverID {
		return nil, apperrors.Forbidden("bid belongs to another driver")
	}
	if bid.Status != models.BidStatusPending {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is "+bid.Status)
	}
	// A lapsed bid stays on record so the driver cannot rebid by withdrawing it.
	now := s.policy.now()
	if bid.IsExpiredAt(now) {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidExpired, "bid expired")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.bidRepo.Withdraw(ctx, bid.ID, now)
		if err != nil {
			return apperrors.Internal("failed to withdraw bid", err)
		}
		if !ok {
			return apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is no longer open")
		}

		tr, err := s.loadRequest(ctx, bid.TripRequestID)
		if err != nil {
			return err
		}
		_, err = s.notifications.Emit(ctx, tr.ClientID, models.NotificationBidWithdrawn, "Bid withdrawn",
			"A driver withdrew their bid", models.JSONMap{"trip_request_id": tr.ID, "bid_id": bid.ID})
		return err
	})
	if err != nil {
		return nil, err
	}

	bid.Status = models.BidStatusWithdrawn
	bid.RespondedAt = &now
	return bid.ToResponse(), nil
}

func (s *bidService) ExpireBid(ctx context.Context, bidID string) (*models.BidResponse, error) {
	bid, err := s.loadBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != models.BidStatusPending {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is "+bid.Status)
	}

	now := s.policy.now()
	ok, err := s.bidRepo.TransitionStatus(ctx, bid.ID, models.BidStatusPending, models.BidStatusExpired, now)
	if err != nil {
		return nil, apperrors.Internal("failed to expire bid", err)
	}
	if !ok {
		return nil, apperrors.PreconditionFailed(apperrors.ReasonBidNotPending, "bid is no longer open")
	}

	bid.Status = models.BidStatusExpired
	bid.RespondedAt = &now
	return bid.ToResponse(), nil
}

// present shows lapsed pending bids as expired before the sweep reaches them.
func (s *bidService) present(bids []*models.Bid) []*models.BidResponse {
	now := s.policy.now()
	out := make([]*models.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp := b.ToResponse()
		if b.Status == models.BidStatusPending && b.IsExpiredAt(now) {
			resp.Status = models.BidStatusExpired
		}
		out = append(out, resp)
	}
	return out
}

func (s *bidService) loadRequest(ctx context.Context, id string) (*models.TripRequest, error) {
	tr, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load trip request", err)
	}
	if tr == nil {
		return nil, apperrors.NotFound("trip request")
	}
	return tr, nil
}

func (s *bidService) loadBid(ctx context.Context, id string) (*models.Bid, error) {
	bid, err := s.bidRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load bid", err)
	}
	if bid == nil {
		return nil, apperrors.NotFound("bid")
	}
	return bid, nil
}
