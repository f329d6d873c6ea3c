package service

import (
	"context"
	"testing"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type tripFixture struct {
	env      *testEnv
	clientID string
	driverID string
	trip     *models.ActiveTrip
}

func newTripFixture(t *testing.T, balance string) *tripFixture {
	t.Helper()
	env := newTestEnv(t)
	clientID := env.newClient(t)
	driverID := env.newDriver(t, balance, nearbySP)
	req := env.newRequest(t, clientID)
	bid := env.placeBid(t, driverID, req.Request.ID, "180.00")

	trip, err := env.bids.AcceptBid(context.Background(), clientID, req.Request.ID, bid.ID)
	require.NoError(t, err)
	return &tripFixture{env: env, clientID: clientID, driverID: driverID, trip: trip}
}

func (f *tripFixture) driver() models.Actor {
	return models.Actor{UserID: f.driverID, Role: models.RoleDriver}
}

func (f *tripFixture) client() models.Actor {
	return models.Actor{UserID: f.clientID, Role: models.RoleClient}
}

func (f *tripFixture) advance(t *testing.T, actor models.Actor, statuses ...string) *models.ActiveTrip {
	t.Helper()
	var trip *models.ActiveTrip
	for _, status := range statuses {
		var err error
		trip, err = f.env.trips.Advance(context.Background(), actor, f.trip.ID, &models.AdvanceTripRequest{Status: status})
		require.NoError(t, err, "advance to %s", status)
		require.Equal(t, status, trip.Status)
	}
	return trip
}

func TestTripLifecycleChargesAtCompletion(t *testing.T) {
	f := newTripFixture(t, "50.00")
	env := f.env

	f.advance(t, f.driver(), models.TripStatusDriverEnRoute, models.TripStatusDriverArrived, models.TripStatusInProgress)
	require.True(t, env.balance(t, f.driverID).Equal(decimal.NewFromInt(50)))

	trip := f.advance(t, f.driver(), models.TripStatusCompleted)
	require.NotNil(t, trip.StartedAt)
	require.NotNil(t, trip.CompletedAt)

	balance, err := env.credits.GetBalance(context.Background(), f.driverID)
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(decimal.NewFromInt(25)), "balance %s", balance.Balance)
	require.True(t, balance.TotalSpent.Equal(decimal.NewFromInt(25)))
	require.True(t, balance.CanBid)

	require.Equal(t, models.RequestStatusCompleted, env.store.requests[trip.TripRequestID].Status)
	require.Equal(t, 1, env.store.drivers[f.driverID].TotalTrips)
	require.Equal(t, 1, env.transport.count(models.NotificationTripStarted))
	require.Equal(t, 1, env.transport.count(models.NotificationTripCompleted))

	_, err = env.trips.Advance(context.Background(), f.driver(), trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusCancelled})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonInvalidTransition)
}

func TestTripCompletionRollsBackWithoutCredit(t *testing.T) {
	f := newTripFixture(t, "25.00")
	env := f.env

	f.advance(t, f.driver(), models.TripStatusDriverEnRoute, models.TripStatusDriverArrived, models.TripStatusInProgress)

	acct := env.store.accounts[f.driverID]
	acct.Balance = decimal.NewFromInt(10)
	env.store.accounts[f.driverID] = acct

	_, err := env.trips.Advance(context.Background(), f.driver(), f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusCompleted})
	requireKind(t, err, apperrors.KindIntegrity, apperrors.ReasonNegativeBalance)

	require.Equal(t, models.TripStatusInProgress, env.store.trips[f.trip.ID].Status)
	require.Equal(t, models.RequestStatusActive, env.store.requests[f.trip.TripRequestID].Status)
	require.True(t, env.balance(t, f.driverID).Equal(decimal.NewFromInt(10)))
	require.Zero(t, env.transport.count(models.NotificationTripCompleted))
}

func TestTripTransitionRules(t *testing.T) {
	f := newTripFixture(t, "50.00")
	ctx := context.Background()
	env := f.env

	_, err := env.trips.Advance(ctx, f.driver(), f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusInProgress})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonInvalidTransition)

	_, err = env.trips.Advance(ctx, f.client(), f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusDriverEnRoute})
	requireKind(t, err, apperrors.KindForbidden, "")

	stranger := models.Actor{UserID: env.newClient(t), Role: models.RoleClient}
	_, err = env.trips.Advance(ctx, stranger, f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusCancelled})
	requireKind(t, err, apperrors.KindForbidden, "")

	_, err = env.trips.Get(ctx, stranger, f.trip.ID)
	requireKind(t, err, apperrors.KindForbidden, "")

	f.advance(t, f.driver(), models.TripStatusDriverEnRoute, models.TripStatusDriverArrived, models.TripStatusInProgress)

	_, err = env.trips.Advance(ctx, f.client(), f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusCancelled})
	requireKind(t, err, apperrors.KindValidation, "")
}

func TestClientCancelsConfirmedTrip(t *testing.T) {
	f := newTripFixture(t, "50.00")
	env := f.env

	trip, err := env.trips.Advance(context.Background(), f.client(), f.trip.ID, &models.AdvanceTripRequest{
		Status: models.TripStatusCancelled,
		Reason: "car started",
	})
	require.NoError(t, err)
	require.Equal(t, models.TripStatusCancelled, trip.Status)
	require.Equal(t, f.clientID, *trip.CancelledBy)
	require.Equal(t, models.RoleClient, *trip.CancelledByRole)
	require.Equal(t, "car started", *trip.CancellationReason)

	require.Equal(t, models.RequestStatusCancelled, env.store.requests[trip.TripRequestID].Status)
	require.True(t, env.balance(t, f.driverID).Equal(decimal.NewFromInt(50)))
	require.Equal(t, 1, env.transport.count(models.NotificationTripCancelled))
}

func TestAdminAdvanceNotifiesBothSides(t *testing.T) {
	f := newTripFixture(t, "50.00")
	admin := models.Actor{UserID: uuid.New().String(), Role: models.RoleAdmin}

	_, err := f.env.trips.Advance(context.Background(), admin, f.trip.ID, &models.AdvanceTripRequest{Status: models.TripStatusCancelled})
	require.NoError(t, err)
	require.Equal(t, 2, f.env.transport.count(models.NotificationTripCancelled))
}

func TestRateTripOncePerSide(t *testing.T) {
	f := newTripFixture(t, "50.00")
	ctx := context.Background()
	env := f.env

	_, err := env.trips.Rate(ctx, f.client(), f.trip.ID, &models.RateTripRequest{Rating: 5})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonTripNotCompleted)

	f.advance(t, f.driver(),
		models.TripStatusDriverEnRoute, models.TripStatusDriverArrived, models.TripStatusInProgress, models.TripStatusCompleted)

	trip, err := env.trips.Rate(ctx, f.client(), f.trip.ID, &models.RateTripRequest{Rating: 4, Feedback: "quick"})
	require.NoError(t, err)
	require.Equal(t, 4, *trip.ClientRating)
	require.Equal(t, "quick", *trip.ClientFeedback)
	require.Nil(t, trip.DriverRating)

	_, err = env.trips.Rate(ctx, f.client(), f.trip.ID, &models.RateTripRequest{Rating: 1})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonAlreadyRated)

	trip, err = env.trips.Rate(ctx, f.driver(), f.trip.ID, &models.RateTripRequest{Rating: 5})
	require.NoError(t, err)
	require.Equal(t, 5, *trip.DriverRating)
	require.Equal(t, 4, *trip.ClientRating)

	_, err = env.trips.Rate(ctx, f.driver(), f.trip.ID, &models.RateTripRequest{Rating: 5})
	requireKind(t, err, apperrors.KindPrecondition, apperrors.ReasonAlreadyRated)

	driver := env.store.drivers[f.driverID]
	require.Equal(t, 1, driver.RatingCount)
	require.InDelta(t, 4.0, driver.Rating, 0.001)
}

func TestListTripsForUser(t *testing.T) {
	f := newTripFixture(t, "50.00")
	ctx := context.Background()

	trips, err := f.env.trips.ListForUser(ctx, f.driver(), 0)
	require.NoError(t, err)
	require.Len(t, trips, 1)

	trips, err = f.env.trips.ListForUser(ctx, models.Actor{UserID: "nobody", Role: models.RoleClient}, 0)
	require.NoError(t, err)
	require.Empty(t, trips)
}

func TestCancelRecordsCancellingUser(t *testing.T) {
	tests := []struct {
		name  string
		actor func(f *tripFixture) models.Actor
		role  string
	}{
		{"client", (*tripFixture).client, models.RoleClient},
		{"driver", (*tripFixture).driver, models.RoleDriver},
		{"admin", func(*tripFixture) models.Actor {
			return models.Actor{UserID: uuid.New().String(), Role: models.RoleAdmin}
		}, models.RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTripFixture(t, "50.00")
			by := tt.actor(f)

			trip, err := f.env.trips.Advance(context.Background(), by, f.trip.ID, &models.AdvanceTripRequest{
				Status: models.TripStatusCancelled,
			})
			require.NoError(t, err)
			require.NotNil(t, trip.CancelledBy)
			require.Equal(t, by.UserID, *trip.CancelledBy)
			_, err = uuid.Parse(*trip.CancelledBy)
			require.NoError(t, err)
			require.Equal(t, tt.role, *trip.CancelledByRole)
			require.Nil(t, trip.CancellationReason)
		})
	}
}
