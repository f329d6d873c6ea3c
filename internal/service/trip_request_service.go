package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/metrics"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/repository"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ExpiryResult counts what one sweep expired.
type ExpiryResult struct {
	Requests int `json:"requests"`
	Bids     int `json:"bids"`
}

type TripRequestService interface {
	Create(ctx context.Context, clientID string, req *models.CreateTripRequestRequest) (*models.CreateTripRequestResult, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.TripRequestResponse, error)
	ListForClient(ctx context.Context, clientID string, limit int) ([]*models.TripRequestResponse, error)
	// ListMatchingDriver returns open requests near location that the driver is equipped for, nearest first.
	ListMatchingDriver(ctx context.Context, driverID string, location geo.Point, radiusKm float64) ([]*models.TripRequestMatch, error)
	Cancel(ctx context.Context, clientID, id, reason string) (*models.TripRequestResponse, error)
	// ExpireStale is idempotent and safe to run concurrently.
	ExpireStale(ctx context.Context) (*ExpiryResult, error)
}

type tripRequestService struct {
	tx            repository.Transactor
	requestRepo   repository.TripRequestRepository
	bidRepo       repository.BidRepository
	userRepo      repository.UserRepository
	driverRepo    repository.DriverRepository
	locator       geo.Locator
	pricing       PricingService
	notifications NotificationService
	policy        Policy
}

func NewTripRequestService(
	tx repository.Transactor,
	requestRepo repository.TripRequestRepository,
	bidRepo repository.BidRepository,
	userRepo repository.UserRepository,
	driverRepo repository.DriverRepository,
	locator geo.Locator,
	pricing PricingService,
	notifications NotificationService,
	policy Policy,
) TripRequestService {
	return &tripRequestService{
		tx:            tx,
		requestRepo:   requestRepo,
		bidRepo:       bidRepo,
		userRepo:      userRepo,
		driverRepo:    driverRepo,
		locator:       locator,
		pricing:       pricing,
		notifications: notifications,
		policy:        policy,
	}
}

func (s *tripRequestService) Create(ctx context.Context, clientID string, req *models.CreateTripRequestRequest) (*models.CreateTripRequestResult, error) {
	if req.Origin == nil || req.Destination == nil {
		return nil, apperrors.Validation("origin and destination are required")
	}
	if !req.Origin.Point().Valid() || !req.Destination.Point().Valid() {
		return nil, apperrors.Validation("coordinates out of range")
	}
	if !models.IsValidServiceType(req.ServiceType) {
		return nil, apperrors.Validation("unknown service type")
	}
	if err := validateAmount("max_offer", req.MaxOffer); err != nil {
		return nil, err
	}

	client, err := s.userRepo.GetByID(ctx, clientID)
	if err != nil {
		return nil, apperrors.Internal("failed to load client", err)
	}
	if client == nil {
		return nil, apperrors.Validation("client does not exist")
	}

	origin := req.Origin.Point()
	distance := s.pricing.EstimateDistance(origin, req.Destination.Point())
	duration := s.pricing.EstimateDuration(distance)
	now := s.policy.now()

	tr := &models.TripRequest{
		ID:                   uuid.New().String(),
		ClientID:             clientID,
		ServiceType:          req.ServiceType,
		OriginLat:            req.Origin.Lat,
		OriginLng:            req.Origin.Lng,
		DestinationLat:       req.Destination.Lat,
		DestinationLng:       req.Destination.Lng,
		MaxOffer:             req.MaxOffer,
		SuggestedFare:        s.pricing.SuggestedFare(req.ServiceType, distance, duration),
		EstimatedDistanceKm:  distance,
		EstimatedDurationMin: duration,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.policy.RequestTTL),
	}
	if req.Origin.Address != "" {
		tr.OriginAddress = &req.Origin.Address
	}
	if req.Destination.Address != "" {
		tr.DestinationAddress = &req.Destination.Address
	}
	if req.Notes != "" {
		tr.Notes = &req.Notes
	}

	matches, err := s.locator.NearbyDrivers(ctx, origin, s.policy.MatchingRadiusKM, req.ServiceType)
	if err != nil {
		return nil, apperrors.Internal("failed to find nearby drivers", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requestRepo.Create(ctx, tr); err != nil {
			return apperrors.Internal("failed to create trip request", err)
		}
		for _, m := range matches {
			_, err := s.notifications.Emit(ctx, m.ID, models.NotificationNewRequest,
				"New service request nearby", newRequestMessage(tr, m.DistanceKm),
				models.JSONMap{"trip_request_id": tr.ID})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TripRequestsCreated.WithLabelValues(tr.ServiceType).Inc()
	metrics.MatchingDrivers.Observe(float64(len(matches)))
	slog.InfoContext(ctx, "trip request created",
		"trip_request_id", tr.ID, "client_id", clientID, "service_type", tr.ServiceType, "matching_drivers", len(matches))

	return &models.CreateTripRequestResult{
		Request:         tr.ToResponse(),
		MatchingDrivers: len(matches),
	}, nil
}

func (s *tripRequestService) Get(ctx context.Context, actor models.Actor, id string) (*models.TripRequestResponse, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleClient && tr.ClientID != actor.UserID {
		return nil, apperrors.Forbidden("trip request belongs to another client")
	}
	return s.present(tr), nil
}

func (s *tripRequestService) ListForClient(ctx context.Context, clientID string, limit int) ([]*models.TripRequestResponse, error) {
	reqs, err := s.requestRepo.ListByClient(ctx, clientID, clampLimit(limit))
	if err != nil {
		return nil, apperrors.Internal("failed to list trip requests", err)
	}
	out := make([]*models.TripRequestResponse, 0, len(reqs))
	for _, tr := range reqs {
		out = append(out, s.present(tr))
	}
	return out, nil
}

func (s *tripRequestService) ListMatchingDriver(ctx context.Context, driverID string, location geo.Point, radiusKm float64) ([]*models.TripRequestMatch, error) {
	if !location.Valid() {
		return nil, apperrors.Validation("coordinates out of range")
	}
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, apperrors.Internal("failed to load driver", err)
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	out := make([]*models.TripRequestMatch, 0)
	if len(driver.Specialties) == 0 {
		return out, nil
	}

	open, err := s.requestRepo.ListOpen(ctx, driver.Specialties, s.policy.now())
	if err != nil {
		return nil, apperrors.Internal("failed to list open trip requests", err)
	}

	byID := make(map[string]*models.TripRequest, len(open))
	candidates := make([]geo.Candidate, 0, len(open))
	for _, tr := range open {
		byID[tr.ID] = tr
		candidates = append(candidates, geo.Candidate{
			ID:       tr.ID,
			Location: tr.Origin(),
			Services: []string{tr.ServiceType},
		})
	}

	for _, m := range geo.Within(location, s.policy.radius(radiusKm), candidates, geo.OffersAny(driver.Specialties)) {
		out = append(out, &models.TripRequestMatch{
			Request:    byID[m.ID].ToResponse(),
			DistanceKm: m.DistanceKm,
		})
	}
	return out, nil
}

// Cancel withdraws a pending request. Its pending bids are rejected.
func (s *tripRequestService) Cancel(ctx context.Context, clientID, id, reason string) (*models.TripRequestResponse, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr.ClientID != clientID {
		return nil, apperrors.Forbidden("trip request belongs to another client")
	}
	if err := checkRequestOpen(tr, s.policy.now()); err != nil {
		return nil, err
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.requestRepo.TransitionStatus(ctx, tr.ID, tr.Version, models.RequestStatusPending, models.RequestStatusCancelled, reasonPtr)
		if err != nil {
			return apperrors.Internal("failed to cancel trip request", err)
		}
		if !ok {
			return apperrors.ConcurrencyConflict("trip request changed, reload and retry")
		}

		closed, err := s.bidRepo.CloseOthers(ctx, tr.ID, "", models.BidStatusRejected, s.policy.now())
		if err != nil {
			return apperrors.Internal("failed to close bids", err)
		}
		for _, b := range closed {
			_, err := s.notifications.Emit(ctx, b.DriverID, models.NotificationRequestClosed,
				"Request cancelled", "The client cancelled a request you bid on",
				models.JSONMap{"trip_request_id": tr.ID, "bid_id": b.ID})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tr.Status = models.RequestStatusCancelled
	tr.CancellationReason = reasonPtr
	tr.Version++
	return tr.ToResponse(), nil
}

func (s *tripRequestService) ExpireStale(ctx context.Context) (*ExpiryResult, error) {
	result := &ExpiryResult{}
	now := s.policy.now()

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		expired, err := s.requestRepo.ExpireStale(ctx, now)
		if err != nil {
			return apperrors.Internal("failed to expire trip requests", err)
		}
		for _, tr := range expired {
			bids, err := s.bidRepo.CloseOthers(ctx, tr.ID, "", models.BidStatusExpired, now)
			if err != nil {
				return apperrors.Internal("failed to expire bids", err)
			}
			result.Bids += len(bids)

			_, err = s.notifications.Emit(ctx, tr.ClientID, models.NotificationRequestExpired,
				"Request expired", "Your service request expired without an accepted bid",
				models.JSONMap{"trip_request_id": tr.ID})
			if err != nil {
				return err
			}
		}
		result.Requests = len(expired)

		bids, err := s.bidRepo.ExpireStale(ctx, now)
		if err != nil {
			return apperrors.Internal("failed to expire bids", err)
		}
		result.Bids += len(bids)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SweepExpired.WithLabelValues("trip_request").Add(float64(result.Requests))
	metrics.SweepExpired.WithLabelValues("bid").Add(float64(result.Bids))
	return result, nil
}

func (s *tripRequestService) load(ctx context.Context, id string) (*models.TripRequest, error) {
	tr, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.Internal("failed to load trip request", err)
	}
	if tr == nil {
		return nil, apperrors.NotFound("trip request")
	}
	return tr, nil
}

// present reports a lapsed pending request as expired before the sweep gets to it.
func (s *tripRequestService) present(tr *models.TripRequest) *models.TripRequestResponse {
	resp := tr.ToResponse()
	if tr.Status == models.RequestStatusPending && tr.IsExpiredAt(s.policy.now()) {
		resp.Status = models.RequestStatusExpired
	}
	return resp
}

// checkRequestOpen decides whether a request can still change hands at now.
// The stored expiry wins over a status the sweep has not updated yet.
func checkRequestOpen(tr *models.TripRequest, now time.Time) error {
	switch {
	case tr.Status == models.RequestStatusExpired:
		return apperrors.RequestExpired()
	case tr.Status != models.RequestStatusPending:
		return apperrors.PreconditionFailed(apperrors.ReasonRequestNotPending, "trip request is "+tr.Status)
	case tr.IsExpiredAt(now):
		return apperrors.RequestExpired()
	}
	return nil
}

func newRequestMessage(tr *models.TripRequest, distanceKm float64) string {
	return fmt.Sprintf("%s request %.1f km away, up to %s", tr.ServiceType, distanceKm, tr.MaxOffer.StringFixed(2))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
