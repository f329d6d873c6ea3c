package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCreateTripRequestNotifiesNearbyDrivers(t *testing.T) {
	env := newTestEnv(t)

	clientID := env.newClient(t)
	near := env.newDriver(t, "0", nearbySP)
	env.newDriver(t, "0", campinas)

	res := env.newRequest(t, clientID)
	require.Equal(t, 1, res.MatchingDrivers)
	require.Equal(t, models.RequestStatusPending, res.Request.Status)
	require.Equal(t, env.clock.Now().Add(30*time.Minute), res.Request.ExpiresAt)
	require.True(t, res.Request.SuggestedFare.IsPositive())
	require.Greater(t, res.Request.EstimatedDistanceKm, 0.0)

	require.Equal(t, 1, env.transport.count(models.NotificationNewRequest))
	require.Equal(t, near, env.transport.pushed[0].UserID)
	require.Equal(t, res.Request.ID, env.transport.pushed[0].RelatedIDs["trip_request_id"])
}

func TestCreateTripRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clientID := env.newClient(t)

	tests := []struct {
		name string
		req  *models.CreateTripRequestRequest
		kind apperrors.Kind
	}{
		{
			name: "missing destination",
			req:  &models.CreateTripRequestRequest{ServiceType: models.ServiceTow, Origin: testOrigin, MaxOffer: decimal.NewFromInt(100)},
			kind: apperrors.KindValidation,
		},
		{
			name: "latitude out of range",
			req: &models.CreateTripRequestRequest{
				ServiceType: models.ServiceTow,
				Origin:      &models.Location{Lat: 91, Lng: 0},
				Destination: testDest,
				MaxOffer:    decimal.NewFromInt(100),
			},
			kind: apperrors.KindValidation,
		},
		{
			name: "unknown service",
			req:  &models.CreateTripRequestRequest{ServiceType: "ferry", Origin: testOrigin, Destination: testDest, MaxOffer: decimal.NewFromInt(100)},
			kind: apperrors.KindValidation,
		},
		{
			name: "non-positive offer",
			req:  &models.CreateTripRequestRequest{ServiceType: models.ServiceTow, Origin: testOrigin, Destination: testDest},
			kind: apperrors.KindValidation,
		},
		{
			name: "offer with fractional cents",
			req: &models.CreateTripRequestRequest{
				ServiceType: models.ServiceTow, Origin: testOrigin, Destination: testDest,
				MaxOffer: decimal.RequireFromString("250.125"),
			},
			kind: apperrors.KindValidation,
		},
		{
			name: "offer beyond column range",
			req: &models.CreateTripRequestRequest{
				ServiceType: models.ServiceTow, Origin: testOrigin, Destination: testDest,
				MaxOffer: decimal.RequireFromString("12345678901.00"),
			},
			kind: apperrors.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.requests.Create(ctx, clientID, tt.req)
			requireKind(t, err, tt.kind, "")
		})
	}

	_, err := env.requests.Create(ctx, "ghost", &models.CreateTripRequestRequest{
		ServiceType: models.ServiceTow, Origin: testOrigin, Destination: testDest, MaxOffer: decimal.NewFromInt(100),
	})
	requireKind(t, err, apperrors.KindValidation, "")
	require.Empty(t, env.store.requests)
}

func TestGetTripRequestVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.newClient(t)
	stranger := env.newClient(t)
	req := env.newRequest(t, owner)

	_, err := env.requests.Get(ctx, models.Actor{UserID: stranger, Role: models.RoleClient}, req.Request.ID)
	requireKind(t, err, apperrors.KindForbidden, "")

	got, err := env.requests.Get(ctx, models.Actor{UserID: "admin", Role: models.RoleAdmin}, req.Request.ID)
	require.NoError(t, err)
	require.Equal(t, req.Request.ID, got.ID)

	_, err = env.requests.Get(ctx, models.Actor{UserID: owner, Role: models.RoleClient}, "missing")
	requireKind(t, err, apperrors.KindNotFound, "")
}

func TestTripRequestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID := env.newClient(t)
	req := env.newRequest(t, clientID)

	env.clock.Advance(31 * time.Minute)

	// The sweep has not run but readers already see the request as expired.
	got, err := env.requests.Get(ctx, models.Actor{UserID: clientID, Role: models.RoleClient}, req.Request.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusExpired, got.Status)
	require.Equal(t, models.RequestStatusPending, env.store.requests[req.Request.ID].Status)

	_, err = env.requests.Cancel(ctx, clientID, req.Request.ID, "")
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonRequestExpired)
}

func TestExpireStaleClosesRequestsAndBids(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID := env.newClient(t)
	driverID := env.newDriver(t, "50.00", nearbySP)
	stale := env.newRequest(t, clientID)
	bid := env.placeBid(t, driverID, stale.Request.ID, "150.00")

	env.clock.Advance(20 * time.Minute)
	fresh := env.newRequest(t, clientID)
	freshBid := env.placeBid(t, driverID, fresh.Request.ID, "150.00")

	env.clock.Advance(11 * time.Minute)
	res, err := env.requests.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Requests)
	require.Equal(t, 2, res.Bids)

	require.Equal(t, models.RequestStatusExpired, env.store.requests[stale.Request.ID].Status)
	require.Equal(t, models.RequestStatusPending, env.store.requests[fresh.Request.ID].Status)
	require.Equal(t, models.BidStatusExpired, env.store.bids[bid.ID].Status)
	require.Equal(t, models.BidStatusExpired, env.store.bids[freshBid.ID].Status)
	require.Equal(t, 1, env.transport.count(models.NotificationRequestExpired))

	_, err = env.bids.PlaceBid(ctx, driverID, stale.Request.ID, &models.PlaceBidRequest{
		Amount:     decimal.NewFromInt(120),
		EtaMinutes: 5,
	})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonRequestExpired)

	// A second pass finds nothing.
	res, err = env.requests.ExpireStale(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Requests)
	require.Zero(t, res.Bids)
}

func TestCancelTripRequestRejectsBids(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID := env.newClient(t)
	d1 := env.newDriver(t, "50.00", nearbySP)
	d2 := env.newDriver(t, "50.00", nearbySP)
	req := env.newRequest(t, clientID)
	b1 := env.placeBid(t, d1, req.Request.ID, "150.00")
	b2 := env.placeBid(t, d2, req.Request.ID, "140.00")

	_, err := env.requests.Cancel(ctx, d1, req.Request.ID, "")
	requireKind(t, err, apperrors.KindForbidden, "")

	got, err := env.requests.Cancel(ctx, clientID, req.Request.ID, "found help")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusCancelled, got.Status)
	require.Equal(t, "found help", *got.CancellationReason)

	require.Equal(t, models.BidStatusRejected, env.store.bids[b1.ID].Status)
	require.Equal(t, models.BidStatusRejected, env.store.bids[b2.ID].Status)
	require.Equal(t, 2, env.transport.count(models.NotificationRequestClosed))

	_, err = env.requests.Cancel(ctx, clientID, req.Request.ID, "")
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonRequestNotPending)
}

func TestListMatchingDriver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clientID := env.newClient(t)
	driverID := env.newDriver(t, "0", nearbySP)
	near := env.newRequest(t, clientID)

	_, err := env.requests.Create(ctx, clientID, &models.CreateTripRequestRequest{
		ServiceType: models.ServiceTow,
		Origin:      &models.Location{Lat: campinas.Lat, Lng: campinas.Lng},
		Destination: testDest,
		MaxOffer:    decimal.NewFromInt(400),
	})
	require.NoError(t, err)

	_, err = env.requests.Create(ctx, clientID, &models.CreateTripRequestRequest{
		ServiceType: models.ServiceFuelDelivery,
		Origin:      testOrigin,
		Destination: testDest,
		MaxOffer:    decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	matches, err := env.requests.ListMatchingDriver(ctx, driverID, nearbySP, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, near.Request.ID, matches[0].Request.ID)
	require.Less(t, matches[0].DistanceKm, 5.0)

	// A wide radius reaches Campinas, capped at the configured maximum.
	matches, err = env.requests.ListMatchingDriver(ctx, driverID, nearbySP, 500)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.LessOrEqual(t, matches[0].DistanceKm, matches[1].DistanceKm)

	env.clock.Advance(31 * time.Minute)
	matches, err = env.requests.ListMatchingDriver(ctx, driverID, nearbySP, 500)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestListForClientNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	clientID := env.newClient(t)

	first := env.newRequest(t, clientID)
	env.clock.Advance(time.Minute)
	second := env.newRequest(t, clientID)

	list, err := env.requests.ListForClient(context.Background(), clientID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.Request.ID, list[0].ID)
	require.Equal(t, first.Request.ID, list[1].ID)
}
