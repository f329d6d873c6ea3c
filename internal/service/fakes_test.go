package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/aditya/towbid/internal/errors"
	"github.com/aditya/towbid/internal/geo"
	"github.com/aditya/towbid/internal/models"
	"github.com/aditya/towbid/internal/payment"
	"github.com/aditya/towbid/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the Postgres schema. Rows are stored by
// value so callers never share memory with the store, like a real database.
type memStore struct {
	mu sync.Mutex

	users         map[string]models.User
	drivers       map[string]models.Driver
	requests      map[string]models.TripRequest
	bids          map[string]models.Bid
	trips         map[string]models.ActiveTrip
	accounts      map[string]models.DriverCreditAccount
	txns          []models.CreditTransaction
	topups        map[string]models.PixCreditRequest
	notifications []models.Notification
	seq           int64
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]models.User{},
		drivers:  map[string]models.Driver{},
		requests: map[string]models.TripRequest{},
		bids:     map[string]models.Bid{},
		trips:    map[string]models.ActiveTrip{},
		accounts: map[string]models.DriverCreditAccount{},
		topups:   map[string]models.PixCreditRequest{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() *memStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memStore{
		users:         cloneMap(s.users),
		drivers:       cloneMap(s.drivers),
		requests:      cloneMap(s.requests),
		bids:          cloneMap(s.bids),
		trips:         cloneMap(s.trips),
		accounts:      cloneMap(s.accounts),
		txns:          append([]models.CreditTransaction(nil), s.txns...),
		topups:        cloneMap(s.topups),
		notifications: append([]models.Notification(nil), s.notifications...),
		seq:           s.seq,
	}
}

func (s *memStore) restore(snap *memStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.drivers, s.requests, s.bids = snap.users, snap.drivers, snap.requests, snap.bids
	s.trips, s.accounts, s.txns, s.topups = snap.trips, snap.accounts, snap.txns, snap.topups
	s.notifications, s.seq = snap.notifications, snap.seq
}

// fakeTx serializes transactions and rolls the whole store back when fn fails.
type fakeTx struct {
	store *memStore
	mu    sync.Mutex
}

type fakeTxKey struct{}

type fakeTxState struct {
	hooks []func()
}

func (t *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(fakeTxKey{}).(*fakeTxState); ok {
		return fn(ctx)
	}

	t.mu.Lock()
	snap := t.store.snapshot()
	state := &fakeTxState{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, state))
	if err != nil {
		t.store.restore(snap)
	}
	t.mu.Unlock()

	if err != nil {
		return err
	}
	for _, hook := range state.hooks {
		hook()
	}
	return nil
}

func (t *fakeTx) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(fakeTxKey{}).(*fakeTxState); ok {
		state.hooks = append(state.hooks, fn)
		return
	}
	fn()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// users

type fakeUserRepo struct{ s *memStore }

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Phone == user.Phone {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *fakeUserRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return nil, nil
}

// drivers

type fakeDriverRepo struct{ s *memStore }

func (r *fakeDriverRepo) Create(ctx context.Context, d *models.Driver) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.drivers[d.ID]; ok {
		return repository.ErrDuplicate
	}
	if d.Status == "" {
		d.Status = models.DriverStatusOffline
	}
	r.s.drivers[d.ID] = *d
	return nil
}

func (r *fakeDriverRepo) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drivers[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *fakeDriverRepo) update(id string, fn func(d *models.Driver)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.drivers[id]
	if !ok {
		return nil
	}
	fn(&d)
	r.s.drivers[id] = d
	return nil
}

func (r *fakeDriverRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	return r.update(id, func(d *models.Driver) { d.Status = status })
}

func (r *fakeDriverRepo) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	return r.update(id, func(d *models.Driver) { d.CurrentLat, d.CurrentLng = &lat, &lng })
}

func (r *fakeDriverRepo) AddRating(ctx context.Context, id string, rating int) error {
	return r.update(id, func(d *models.Driver) {
		d.Rating = (d.Rating*float64(d.RatingCount) + float64(rating)) / float64(d.RatingCount+1)
		d.RatingCount++
	})
}

func (r *fakeDriverRepo) IncrementTotalTrips(ctx context.Context, id string) error {
	return r.update(id, func(d *models.Driver) { d.TotalTrips++ })
}

func (r *fakeDriverRepo) ListOnlineWithLocation(ctx context.Context) ([]*models.Driver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Driver
	for _, d := range r.s.drivers {
		if d.Status == models.DriverStatusOnline && d.CurrentLat != nil {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// trip requests

type fakeRequestRepo struct{ s *memStore }

func (r *fakeRequestRepo) Create(ctx context.Context, req *models.TripRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.Status = models.RequestStatusPending
	req.Version = 1
	req.UpdatedAt = req.CreatedAt
	r.s.requests[req.ID] = *req
	return nil
}

func (r *fakeRequestRepo) GetByID(ctx context.Context, id string) (*models.TripRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tr, ok := r.s.requests[id]
	if !ok {
		return nil, nil
	}
	return &tr, nil
}

func (r *fakeRequestRepo) GetByIDForShare(ctx context.Context, id string) (*models.TripRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeRequestRepo) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.TripRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TripRequest
	for _, tr := range r.s.requests {
		if tr.ClientID == clientID {
			tr := tr
			out = append(out, &tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRequestRepo) ListOpen(ctx context.Context, serviceTypes []string, now time.Time) ([]*models.TripRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TripRequest
	for _, tr := range r.s.requests {
		if tr.Status != models.RequestStatusPending || !tr.ExpiresAt.After(now) {
			continue
		}
		for _, st := range serviceTypes {
			if st == tr.ServiceType {
				tr := tr
				out = append(out, &tr)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRequestRepo) TransitionStatus(ctx context.Context, id string, version int, from, to string, reason *string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tr, ok := r.s.requests[id]
	if !ok || tr.Status != from || tr.Version != version {
		return false, nil
	}
	tr.Status = to
	tr.Version++
	if reason != nil {
		tr.CancellationReason = reason
	}
	r.s.requests[id] = tr
	return true, nil
}

func (r *fakeRequestRepo) ExpireStale(ctx context.Context, now time.Time) ([]*models.TripRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.TripRequest
	for id, tr := range r.s.requests {
		if tr.Status == models.RequestStatusPending && !tr.ExpiresAt.After(now) {
			tr.Status = models.RequestStatusExpired
			tr.Version++
			r.s.requests[id] = tr
			tr := tr
			out = append(out, &tr)
		}
	}
	return out, nil
}

// bids

type fakeBidRepo struct{ s *memStore }

func (r *fakeBidRepo) Create(ctx context.Context, bid *models.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bids {
		if b.TripRequestID == bid.TripRequestID && b.DriverID == bid.DriverID && b.Status != models.BidStatusWithdrawn {
			return repository.ErrDuplicate
		}
	}
	bid.Status = models.BidStatusPending
	r.s.bids[bid.ID] = *bid
	return nil
}

func (r *fakeBidRepo) GetByID(ctx context.Context, id string) (*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bids[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *fakeBidRepo) GetLiveByRequestAndDriver(ctx context.Context, tripRequestID, driverID string) (*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bids {
		if b.TripRequestID == tripRequestID && b.DriverID == driverID && b.Status != models.BidStatusWithdrawn {
			return &b, nil
		}
	}
	return nil, nil
}

func (r *fakeBidRepo) list(keep func(models.Bid) bool) []*models.Bid {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Bid
	for _, b := range r.s.bids {
		if keep(b) {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *fakeBidRepo) ListByRequest(ctx context.Context, tripRequestID string) ([]*models.Bid, error) {
	return r.list(func(b models.Bid) bool { return b.TripRequestID == tripRequestID }), nil
}

func (r *fakeBidRepo) ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Bid, error) {
	out := r.list(func(b models.Bid) bool { return b.DriverID == driverID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeBidRepo) MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bids[id]
	if !ok || b.Status != models.BidStatusPending || !b.ExpiresAt.After(now) {
		return false, nil
	}
	for _, other := range r.s.bids {
		if other.TripRequestID == b.TripRequestID && other.Status == models.BidStatusAccepted {
			return false, repository.ErrDuplicate
		}
	}
	b.Status = models.BidStatusAccepted
	b.RespondedAt = &now
	r.s.bids[id] = b
	return true, nil
}

func (r *fakeBidRepo) CloseOthers(ctx context.Context, tripRequestID, exceptID, status string, now time.Time) ([]*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Bid
	for id, b := range r.s.bids {
		if b.TripRequestID == tripRequestID && id != exceptID && b.Status == models.BidStatusPending {
			b.Status = status
			b.RespondedAt = &now
			r.s.bids[id] = b
			b := b
			out = append(out, &b)
		}
	}
	return out, nil
}

func (r *fakeBidRepo) TransitionStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bids[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.RespondedAt = &now
	r.s.bids[id] = b
	return true, nil
}

func (r *fakeBidRepo) Withdraw(ctx context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bids[id]
	if !ok || b.Status != models.BidStatusPending || !b.ExpiresAt.After(now) {
		return false, nil
	}
	b.Status = models.BidStatusWithdrawn
	b.RespondedAt = &now
	r.s.bids[id] = b
	return true, nil
}

func (r *fakeBidRepo) ExpireStale(ctx context.Context, now time.Time) ([]*models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Bid
	for id, b := range r.s.bids {
		if b.Status == models.BidStatusPending && !b.ExpiresAt.After(now) {
			b.Status = models.BidStatusExpired
			b.RespondedAt = &now
			r.s.bids[id] = b
			b := b
			out = append(out, &b)
		}
	}
	return out, nil
}

// active trips

type fakeTripRepo struct{ s *memStore }

func (r *fakeTripRepo) Create(ctx context.Context, trip *models.ActiveTrip) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.trips {
		if t.TripRequestID == trip.TripRequestID || t.BidID == trip.BidID {
			return repository.ErrDuplicate
		}
	}
	trip.Status = models.TripStatusConfirmed
	trip.UpdatedAt = trip.CreatedAt
	r.s.trips[trip.ID] = *trip
	return nil
}

func (r *fakeTripRepo) GetByID(ctx context.Context, id string) (*models.ActiveTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.trips[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *fakeTripRepo) GetByTripRequestID(ctx context.Context, tripRequestID string) (*models.ActiveTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.trips {
		if t.TripRequestID == tripRequestID {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *fakeTripRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*models.ActiveTrip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ActiveTrip
	for _, t := range r.s.trips {
		if t.DriverID == userID || t.ClientID == userID {
			t := t
			out = append(out, &t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeTripRepo) update(id string, fn func(t *models.ActiveTrip) bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.trips[id]
	if !ok || !fn(&t) {
		return false
	}
	r.s.trips[id] = t
	return true
}

func (r *fakeTripRepo) TransitionStatus(ctx context.Context, id, from, to string, at time.Time) (bool, error) {
	return r.update(id, func(t *models.ActiveTrip) bool {
		if t.Status != from {
			return false
		}
		t.Status = to
		switch to {
		case models.TripStatusInProgress:
			t.StartedAt = &at
		case models.TripStatusCompleted:
			t.CompletedAt = &at
		}
		return true
	}), nil
}

func (r *fakeTripRepo) Cancel(ctx context.Context, id, from string, by models.Actor, reason *string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(by.UserID); err != nil {
		return false, fmt.Errorf("cancelled_by: invalid uuid %q", by.UserID)
	}
	return r.update(id, func(t *models.ActiveTrip) bool {
		if t.Status != from {
			return false
		}
		t.Status = models.TripStatusCancelled
		t.CancelledBy = &by.UserID
		t.CancelledByRole = &by.Role
		t.CancellationReason = reason
		t.CancelledAt = &at
		return true
	}), nil
}

func (r *fakeTripRepo) SetClientRating(ctx context.Context, id string, rating int, feedback *string) (bool, error) {
	return r.update(id, func(t *models.ActiveTrip) bool {
		if t.Status != models.TripStatusCompleted || t.ClientRating != nil {
			return false
		}
		t.ClientRating, t.ClientFeedback = &rating, feedback
		return true
	}), nil
}

func (r *fakeTripRepo) SetDriverRating(ctx context.Context, id string, rating int, feedback *string) (bool, error) {
	return r.update(id, func(t *models.ActiveTrip) bool {
		if t.Status != models.TripStatusCompleted || t.DriverRating != nil {
			return false
		}
		t.DriverRating, t.DriverFeedback = &rating, feedback
		return true
	}), nil
}

// credits

type fakeCreditRepo struct{ s *memStore }

func (r *fakeCreditRepo) EnsureAccount(ctx context.Context, driverID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[driverID]; !ok {
		r.s.accounts[driverID] = models.DriverCreditAccount{DriverID: driverID, Version: 1}
	}
	return nil
}

func (r *fakeCreditRepo) GetAccount(ctx context.Context, driverID string) (*models.DriverCreditAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[driverID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *fakeCreditRepo) GetAccountForUpdate(ctx context.Context, driverID string) (*models.DriverCreditAccount, error) {
	return r.GetAccount(ctx, driverID)
}

func (r *fakeCreditRepo) UpdateBalance(ctx context.Context, acct *models.DriverCreditAccount) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.accounts[acct.DriverID]
	if !ok || stored.Version != acct.Version {
		return false, nil
	}
	if acct.Balance.IsNegative() {
		return false, errors.New("check constraint violated: balance >= 0")
	}
	acct.Version++
	r.s.accounts[acct.DriverID] = *acct
	return true, nil
}

func (r *fakeCreditRepo) InsertTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if txn.TripID != nil {
		for _, t := range r.s.txns {
			if t.DriverID == txn.DriverID && t.TripID != nil && *t.TripID == *txn.TripID && t.Type == txn.Type {
				return repository.ErrDuplicate
			}
		}
	}
	r.s.txns = append(r.s.txns, *txn)
	return nil
}

func (r *fakeCreditRepo) FindTripTransaction(ctx context.Context, driverID, tripID, txnType string) (*models.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.txns {
		if t.DriverID == driverID && t.TripID != nil && *t.TripID == tripID && t.Type == txnType {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *fakeCreditRepo) ListTransactions(ctx context.Context, driverID string, limit int) ([]*models.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(r.s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if t := r.s.txns[i]; t.DriverID == driverID {
			out = append(out, &t)
		}
	}
	return out, nil
}

func (r *fakeCreditRepo) SumByType(ctx context.Context, driverID string) (decimal.Decimal, decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	adds, spends := decimal.Zero, decimal.Zero
	for _, t := range r.s.txns {
		if t.DriverID != driverID {
			continue
		}
		if t.Type == models.CreditTypeAdd {
			adds = adds.Add(t.Amount)
		} else {
			spends = spends.Add(t.Amount)
		}
	}
	return adds, spends, nil
}

// top-ups

type fakePixRepo struct{ s *memStore }

func (r *fakePixRepo) Create(ctx context.Context, req *models.PixCreditRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.topups {
		if p.DriverID == req.DriverID && p.Status == models.PixStatusPending {
			return repository.ErrDuplicate
		}
	}
	req.Status = models.PixStatusPending
	req.UpdatedAt = req.CreatedAt
	r.s.topups[req.ID] = *req
	return nil
}

func (r *fakePixRepo) GetByID(ctx context.Context, id string) (*models.PixCreditRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.topups[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakePixRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.PixCreditRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *fakePixRepo) GetPendingByDriver(ctx context.Context, driverID string) (*models.PixCreditRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.topups {
		if p.DriverID == driverID && p.Status == models.PixStatusPending {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *fakePixRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*models.PixCreditRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.PixCreditRequest
	for _, p := range r.s.topups {
		if p.Status == status && len(out) < limit {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r *fakePixRepo) Resolve(ctx context.Context, id, status, adminID string, notes *string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.topups[id]
	if !ok || p.Status != models.PixStatusPending {
		return false, nil
	}
	p.Status = status
	p.ConfirmedBy = &adminID
	p.ConfirmationNotes = notes
	p.ResolvedAt = &at
	r.s.topups[id] = p
	return true, nil
}

// notifications

type fakeNotificationRepo struct{ s *memStore }

func (r *fakeNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	n.Seq = r.s.seq
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

func (r *fakeNotificationRepo) ListForUser(ctx context.Context, userID string, afterSeq int64, unreadOnly bool, limit int) ([]*models.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.s.notifications {
		if n.UserID != userID || n.Seq <= afterSeq || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		n := n
		out = append(out, &n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, n := range r.s.notifications {
		if n.ID == id && n.UserID == userID {
			if n.ReadAt == nil {
				r.s.notifications[i].ReadAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.notifications {
		if r.s.notifications[i].UserID == userID && r.s.notifications[i].ReadAt == nil {
			r.s.notifications[i].ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (r *fakeNotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, x := range r.s.notifications {
		if x.UserID == userID && x.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// recordingTransport captures pushes made after commit.
type recordingTransport struct {
	mu     sync.Mutex
	pushed []*models.Notification
	err    error
}

func (t *recordingTransport) Push(ctx context.Context, n *models.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.pushed = append(t.pushed, n)
	return nil
}

func (t *recordingTransport) count(notifType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.pushed {
		if p.Type == notifType {
			n++
		}
	}
	return n
}

type stubProvider struct {
	charge *payment.Charge
	err    error
}

func (p *stubProvider) CreateCharge(ctx context.Context, amount decimal.Decimal, reference string) (*payment.Charge, error) {
	return p.charge, p.err
}

// testEnv wires every service over one memStore.
type testEnv struct {
	store     *memStore
	clock     *fakeClock
	policy    Policy
	transport *recordingTransport
	provider  *stubProvider

	userRepo    *fakeUserRepo
	driverRepo  *fakeDriverRepo
	requestRepo *fakeRequestRepo
	bidRepo     *fakeBidRepo
	tripRepo    *fakeTripRepo
	creditRepo  *fakeCreditRepo
	pixRepo     *fakePixRepo

	notifications NotificationService
	credits       CreditService
	requests      TripRequestService
	bids          BidService
	trips         TripService
	drivers       DriverService
	users         UserService
}

var (
	saoPaulo   = geo.Point{Lat: -23.5505, Lng: -46.6333}
	nearbySP   = geo.Point{Lat: -23.5610, Lng: -46.6560}
	campinas   = geo.Point{Lat: -22.9099, Lng: -47.0626}
	testOrigin = &models.Location{Lat: saoPaulo.Lat, Lng: saoPaulo.Lng, Address: "Praca da Se"}
	testDest   = &models.Location{Lat: -23.5874, Lng: -46.6576, Address: "Ibirapuera"}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	tx := &fakeTx{store: store}

	env := &testEnv{
		store:       store,
		clock:       clock,
		transport:   &recordingTransport{},
		provider:    &stubProvider{},
		userRepo:    &fakeUserRepo{store},
		driverRepo:  &fakeDriverRepo{store},
		requestRepo: &fakeRequestRepo{store},
		bidRepo:     &fakeBidRepo{store},
		tripRepo:    &fakeTripRepo{store},
		creditRepo:  &fakeCreditRepo{store},
		pixRepo:     &fakePixRepo{store},
		policy: Policy{
			RequestTTL:          30 * time.Minute,
			BidTTL:              5 * time.Minute,
			MatchingRadiusKM:    25,
			MaxMatchingRadiusKM: 100,
			CostPerTrip:         decimal.RequireFromString("25.00"),
			CreditsPerUnit:      decimal.NewFromInt(1),
			Now:                 clock.Now,
		},
	}

	locator := geo.NewScanLocator(OnlineDriverCandidates(env.driverRepo))
	env.notifications = NewNotificationService(&fakeNotificationRepo{store}, tx, env.transport, env.policy)
	env.credits = NewCreditService(tx, env.creditRepo, env.pixRepo, env.driverRepo, env.provider, env.notifications, env.policy)
	env.requests = NewTripRequestService(tx, env.requestRepo, env.bidRepo, env.userRepo, env.driverRepo,
		locator, NewPricingService(), env.notifications, env.policy)
	env.trips = NewTripService(tx, env.tripRepo, env.requestRepo, env.driverRepo, env.credits, env.notifications, env.policy)
	env.bids = NewBidService(tx, env.bidRepo, env.requestRepo, env.driverRepo, env.credits, env.trips, env.notifications, env.policy)
	env.drivers = NewDriverService(tx, env.driverRepo, env.userRepo, env.creditRepo, nil)
	env.users = NewUserService(env.userRepo)
	return env
}

func (e *testEnv) newUser(t *testing.T, role string) string {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), &models.CreateUserRequest{
		Phone: uuid.New().String()[:12],
		Name:  "Test " + role,
		Role:  role,
	})
	require.NoError(t, err)
	return u.ID
}

func (e *testEnv) newClient(t *testing.T) string {
	return e.newUser(t, models.RoleClient)
}

// newDriver registers an online tow driver at loc holding balance credits.
func (e *testEnv) newDriver(t *testing.T, balance string, loc geo.Point) string {
	t.Helper()
	ctx := context.Background()
	id := e.newUser(t, models.RoleDriver)

	_, err := e.drivers.CreateDriver(ctx, &models.CreateDriverRequest{
		UserID:        id,
		VehicleNumber: "TOW-" + id[:4],
		Specialties:   []string{models.ServiceTow, models.ServiceWinch},
	})
	require.NoError(t, err)
	require.NoError(t, e.drivers.UpdateLocation(ctx, id, &models.UpdateDriverLocationRequest{Lat: loc.Lat, Lng: loc.Lng}))
	_, err = e.drivers.SetStatus(ctx, id, models.DriverStatusOnline)
	require.NoError(t, err)

	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		_, err = e.credits.AddCredits(ctx, id, amount, models.CreditSourceAdminGrant, "seed", nil)
		require.NoError(t, err)
	}
	return id
}

func (e *testEnv) newRequest(t *testing.T, clientID string) *models.CreateTripRequestResult {
	t.Helper()
	res, err := e.requests.Create(context.Background(), clientID, &models.CreateTripRequestRequest{
		ServiceType: models.ServiceTow,
		Origin:      testOrigin,
		Destination: testDest,
		MaxOffer:    decimal.RequireFromString("300.00"),
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) placeBid(t *testing.T, driverID, requestID, amount string) *models.BidResponse {
	t.Helper()
	bid, err := e.bids.PlaceBid(context.Background(), driverID, requestID, &models.PlaceBidRequest{
		Amount:     decimal.RequireFromString(amount),
		EtaMinutes: 15,
	})
	require.NoError(t, err)
	return bid
}

func (e *testEnv) balance(t *testing.T, driverID string) decimal.Decimal {
	t.Helper()
	b, err := e.credits.GetBalance(context.Background(), driverID)
	require.NoError(t, err)
	return b.Balance
}

func requireKind(t *testing.T, err error, kind apperrors.Kind, reason string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperrors.KindOf(err), "error: %v", err)
	if reason != "" {
		require.Equal(t, reason, apperrors.ReasonOf(err), "error: %v", err)
	}
}
