package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"smartpark/internal/clients"
	"smartpark/internal/models"
	"smartpark/internal/repository"
)

type fakeVehicles struct {
	byPlate map[string]*models.Vehicle
	err     error
}

func (f *fakeVehicles) FindByPlate(_ context.Context, plate string) (*models.Vehicle, error) {
	if f.err != nil {
		return nil, f.err
	}
	vehicle, ok := f.byPlate[plate]
	if !ok {
		return nil, clients.ErrVehicleNotFound
	}
	return vehicle, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*models.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[int64]*models.Session)}
}

func (f *fakeSessions) Create(_ context.Context, session *models.Session) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	session.ID = f.nextID
	stored := *session
	f.sessions[session.ID] = &stored
	return session, nil
}

func (f *fakeSessions) FindActiveByVehicleAndLocation(_ context.Context, vehicleID, locationID int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.VehicleID == vehicleID && s.LocationID == locationID && s.Open() {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (f *fakeSessions) FindByID(_ context.Context, id int64) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) Close(_ context.Context, sessionID int64, exitTime time.Time, priceTotalMinor int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || !s.Open() {
		return repository.ErrSessionNotFound
	}
	s.ExitTime = null.TimeFrom(exitTime)
	s.PriceTotalMinor = null.IntFrom(priceTotalMinor)
	s.PaymentStatus = status
	return nil
}

func (f *fakeSessions) UpdatePaymentStatus(_ context.Context, sessionID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.Open() {
		return repository.ErrSessionNotFound
	}
	s.PaymentStatus = status
	return nil
}

func (f *fakeSessions) get(id int64) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeSpots hands out spots from a pool, treating a spot as free iff the
// session store holds no open session on it.
type fakeSpots struct {
	pool     []int64
	sessions *fakeSessions
}

func (f *fakeSpots) PickFree(_ context.Context, locationID int64) (int64, error) {
	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	for _, spotID := range f.pool {
		taken := false
		for _, s := range f.sessions.sessions {
			if s.LocationID == locationID && s.SpotID == spotID && s.Open() {
				taken = true
				break
			}
		}
		if !taken {
			return spotID, nil
		}
	}
	return 0, repository.ErrNoFreeSpot
}

type fakeReservations struct {
	mu          sync.Mutex
	reservation *models.Reservation
}

func (f *fakeReservations) FindActive(_ context.Context, accountID, locationID int64, at time.Time) (*models.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reservation
	if r == nil || r.AccountID != accountID || r.LocationID != locationID {
		return nil, repository.ErrReservationNotFound
	}
	if r.Status != models.ReservationStatusPaid {
		return nil, repository.ErrReservationNotFound
	}
	if at.Before(r.ValidFrom.Add(-5*time.Minute)) || at.After(r.ValidUntil) {
		return nil, repository.ErrReservationNotFound
	}
	copied := *r
	return &copied, nil
}

func (f *fakeReservations) MarkUsed(_ context.Context, reservationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reservation == nil || f.reservation.ID != reservationID || f.reservation.Status != models.ReservationStatusPaid {
		return repository.ErrReservationNotFound
	}
	f.reservation.Status = models.ReservationStatusUsed
	return nil
}

type fakePricing struct {
	pricing *models.Pricing
	err     error
}

func (f *fakePricing) ForLocation(_ context.Context, locationID int64) (*models.Pricing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pricing, nil
}

type fakePayments struct {
	mu      sync.Mutex
	calls   int
	refuse  bool
	failErr error
}

func (f *fakePayments) Charge(_ context.Context, accountID, sessionID, amountMinor int64) (clients.ChargeOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return clients.ChargeOutcome{}, f.failErr
	}
	if f.refuse {
		return clients.ChargeOutcome{Success: false, Reference: "ref-refused"}, nil
	}
	return clients.ChargeOutcome{Success: true, Reference: "ref-ok"}, nil
}

func (f *fakePayments) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeNotifier) PaymentConfirmed(_ context.Context, _ clients.PaymentConfirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc          *ParkingSessionsService
	vehicles     *fakeVehicles
	sessions     *fakeSessions
	spots        *fakeSpots
	reservations *fakeReservations
	pricing      *fakePricing
	payments     *fakePayments
	notifier     *fakeNotifier
}

func newFixture() *fixture {
	sessions := newFakeSessions()
	f := &fixture{
		vehicles: &fakeVehicles{byPlate: map[string]*models.Vehicle{
			"ABC123": {ID: 11, Plate: "ABC123", AccountID: null.IntFrom(101)},
			"NOACC1": {ID: 12, Plate: "NOACC1"},
		}},
		sessions:     sessions,
		spots:        &fakeSpots{pool: []int64{501, 502, 503}, sessions: sessions},
		reservations: &fakeReservations{},
		pricing: &fakePricing{pricing: &models.Pricing{
			LocationID:          1,
			FreeMinutes:         15,
			RatePerMinuteMinor:  10,
			RoundingStepMinutes: 5,
		}},
		payments: &fakePayments{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewParkingSessionsService(
		f.sessions,
		f.spots,
		f.reservations,
		f.pricing,
		f.vehicles,
		f.payments,
		f.notifier,
		nil,
		nil,
		zap.NewNop(),
	)
	return f
}

var entryAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestHandleEntryOpensSession(t *testing.T) {
	f := newFixture()

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{
		Plate: "abc123 ", LocationID: 1, CameraID: 3, At: entryAt,
	})
	if err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}
	if sessionID == 0 {
		t.Fatal("expected session id")
	}

	session := f.sessions.get(sessionID)
	if session.PaymentStatus != models.PaymentStatusActive {
		t.Fatalf("expected Active status, got %s", session.PaymentStatus)
	}
	if !session.Open() {
		t.Fatal("new session must have no exit time")
	}
	if !session.EntryTime.Equal(entryAt) {
		t.Fatalf("entry time mismatch: %v", session.EntryTime)
	}
	if session.SpotID == 0 {
		t.Fatal("expected allocated spot")
	}
	if f.payments.callCount() != 0 {
		t.Fatal("no charge may occur at entry")
	}
}

func TestHandleEntryUnknownPlate(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ZZZ999", LocationID: 1, At: entryAt})
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("want ErrVehicleNotFound, got %v", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("nothing may be persisted")
	}
}

func TestHandleEntryNoAccount(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "NOACC1", LocationID: 1, At: entryAt})
	if !errors.Is(err, ErrNoAccount) {
		t.Fatalf("want ErrNoAccount, got %v", err)
	}
}

func TestHandleEntryNoFreeSpots(t *testing.T) {
	f := newFixture()
	f.spots.pool = nil

	_, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if !errors.Is(err, ErrNoFreeSpots) {
		t.Fatalf("want ErrNoFreeSpots, got %v", err)
	}
}

func TestHandleEntryConsumesReservation(t *testing.T) {
	f := newFixture()
	f.reservations.reservation = &models.Reservation{
		ID:         71,
		AccountID:  101,
		LocationID: 1,
		SpotID:     999,
		ValidFrom:  entryAt.Add(-time.Hour),
		ValidUntil: entryAt.Add(time.Hour),
		Status:     models.ReservationStatusPaid,
	}

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}

	session := f.sessions.get(sessionID)
	if session.SpotID != 999 {
		t.Fatalf("expected reserved spot 999, got %d", session.SpotID)
	}
	if session.ReservationID.ValueOrZero() != 71 {
		t.Fatal("session must reference the consumed reservation")
	}
	if f.reservations.reservation.Status != models.ReservationStatusUsed {
		t.Fatalf("reservation must transition to Used, got %s", f.reservations.reservation.Status)
	}
}

func TestHandleEntryIgnoresLapsedReservation(t *testing.T) {
	f := newFixture()
	f.reservations.reservation = &models.Reservation{
		ID:         72,
		AccountID:  101,
		LocationID: 1,
		SpotID:     999,
		ValidFrom:  entryAt.Add(-3 * time.Hour),
		ValidUntil: entryAt.Add(-time.Hour),
		Status:     models.ReservationStatusPaid,
	}

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}

	session := f.sessions.get(sessionID)
	if session.SpotID == 999 {
		t.Fatal("lapsed reservation spot must not be used")
	}
	if f.reservations.reservation.Status != models.ReservationStatusPaid {
		t.Fatal("lapsed reservation must not be consumed here")
	}
}

func TestHandleEntryKeepsSingleActiveSession(t *testing.T) {
	f := newFixture()

	first, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("first entry: %v", err)
	}
	second, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if first != second {
		t.Fatalf("second entry must return the existing session, got %d and %d", first, second)
	}
	if f.sessions.count() != 1 {
		t.Fatalf("expected 1 session, got %d", f.sessions.count())
	}
}

func TestHandleExitWithoutEntry(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if !errors.Is(err, ErrExitWithoutEntry) {
		t.Fatalf("want ErrExitWithoutEntry, got %v", err)
	}
	if f.sessions.count() != 0 {
		t.Fatal("nothing may be persisted")
	}
}

func TestHandleExitZeroFeeSkipsCharge(t *testing.T) {
	f := newFixture()

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}

	result, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(10 * time.Minute)})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !result.Success || result.AmountMinor != 0 {
		t.Fatalf("want free successful exit, got %+v", result)
	}
	if f.payments.callCount() != 0 {
		t.Fatal("zero amount must not reach the payment collaborator")
	}
	if got := f.sessions.get(sessionID); got.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("want Paid, got %s", got.PaymentStatus)
	}
}

func TestHandleExitChargesAndNotifies(t *testing.T) {
	f := newFixture()

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}

	result, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(40 * time.Minute)})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	// 40 minutes, 15 free, 25 billable on a 5 minute step at 10/min.
	if !result.Success || result.AmountMinor != 250 {
		t.Fatalf("want success with 250 minor, got %+v", result)
	}
	if result.SessionID != sessionID {
		t.Fatalf("result names wrong session: %d", result.SessionID)
	}

	session := f.sessions.get(sessionID)
	if session.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("want Paid, got %s", session.PaymentStatus)
	}
	if session.PriceTotalMinor.ValueOrZero() != 250 {
		t.Fatalf("fee not persisted: %+v", session.PriceTotalMinor)
	}
	if f.payments.callCount() != 1 {
		t.Fatalf("want 1 charge, got %d", f.payments.callCount())
	}
	if f.notifier.callCount() != 1 {
		t.Fatalf("want 1 confirmation, got %d", f.notifier.callCount())
	}
}

func TestHandleExitChargeFailureClosesPending(t *testing.T) {
	f := newFixture()
	f.payments.failErr = errors.New("wallet unreachable")

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}

	result, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(40 * time.Minute)})
	if err != nil {
		t.Fatalf("exit must not fail on charge problems: %v", err)
	}
	if result.Success {
		t.Fatal("charge failure must surface as success=false")
	}

	session := f.sessions.get(sessionID)
	if session.Open() {
		t.Fatal("session must be closed despite the failed charge")
	}
	if session.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("want Pending, got %s", session.PaymentStatus)
	}
	if f.notifier.callCount() != 0 {
		t.Fatal("no confirmation for an uncollected fee")
	}

	// The spot is freed: occupancy derives from the open session, so the
	// next vehicle can take it.
	if _, err := f.spots.PickFree(context.Background(), 1); err != nil {
		t.Fatalf("spot must be free after pending close: %v", err)
	}
}

func TestHandleExitRefusedChargeClosesPending(t *testing.T) {
	f := newFixture()
	f.payments.refuse = true

	if _, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	result, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(40 * time.Minute)})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if result.Success {
		t.Fatal("refused charge must surface as success=false")
	}
	if result.AmountMinor != 250 {
		t.Fatalf("refused charge still reports the owed amount, got %d", result.AmountMinor)
	}
}

func TestHandleExitNotifyFailureSwallowed(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("smtp down")

	if _, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	result, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(40 * time.Minute)})
	if err != nil {
		t.Fatalf("notification failure must not fail the exit: %v", err)
	}
	if !result.Success {
		t.Fatal("exit must stay successful when only the notification fails")
	}
}

func TestConcurrentEntriesClaimDistinctSpots(t *testing.T) {
	f := newFixture()

	const vehicles = 3 // one per pooled spot
	for i := 0; i < vehicles; i++ {
		plate := fmt.Sprintf("CAR%03d", i)
		f.vehicles.byPlate[plate] = &models.Vehicle{
			ID:        int64(100 + i),
			Plate:     plate,
			AccountID: null.IntFrom(int64(200 + i)),
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, vehicles)
	for i := 0; i < vehicles; i++ {
		plate := fmt.Sprintf("CAR%03d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: plate, LocationID: 1, At: entryAt})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent entry failed: %v", err)
		}
	}

	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	seen := make(map[int64]int64)
	for id, s := range f.sessions.sessions {
		if other, dup := seen[s.SpotID]; dup {
			t.Fatalf("spot %d claimed by sessions %d and %d", s.SpotID, other, id)
		}
		seen[s.SpotID] = id
	}
	if len(seen) != vehicles {
		t.Fatalf("expected %d sessions, got %d", vehicles, len(seen))
	}
}

func TestSettlePendingSession(t *testing.T) {
	f := newFixture()
	f.payments.failErr = errors.New("wallet unreachable")

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if _, err := f.svc.HandleExit(context.Background(), ExitInput{Plate: "ABC123", LocationID: 1, At: entryAt.Add(40 * time.Minute)}); err != nil {
		t.Fatalf("exit: %v", err)
	}

	// Wallet recovers; the pending fee settles out of band.
	f.payments.mu.Lock()
	f.payments.failErr = nil
	f.payments.mu.Unlock()

	result, err := f.svc.SettlePendingSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !result.Success || result.AmountMinor != 250 {
		t.Fatalf("want settled 250, got %+v", result)
	}
	if got := f.sessions.get(sessionID); got.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("want Paid after settlement, got %s", got.PaymentStatus)
	}
	if f.notifier.callCount() != 1 {
		t.Fatalf("want confirmation after settlement, got %d", f.notifier.callCount())
	}

	// Settling again is a no-op success.
	again, err := f.svc.SettlePendingSession(context.Background(), sessionID)
	if err != nil || !again.Success {
		t.Fatalf("second settle must be idempotent: %+v, %v", again, err)
	}
	if f.payments.callCount() != 2 { // exit attempt + settle, no third charge
		t.Fatalf("unexpected charge count %d", f.payments.callCount())
	}
}

func TestSettleOpenSessionRejected(t *testing.T) {
	f := newFixture()

	sessionID, err := f.svc.HandleEntry(context.Background(), EntryInput{Plate: "ABC123", LocationID: 1, At: entryAt})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if _, err := f.svc.SettlePendingSession(context.Background(), sessionID); !errors.Is(err, ErrSessionStillOpen) {
		t.Fatalf("want ErrSessionStillOpen, got %v", err)
	}
}
