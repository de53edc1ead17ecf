package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"smartpark/internal/clients"
	"smartpark/internal/models"
	"smartpark/internal/redisstore"
	"smartpark/internal/repository"
)

// VehicleDirectory resolves plates against the external registry.
// Unknown plates surface as clients.ErrVehicleNotFound.
type VehicleDirectory interface {
	FindByPlate(ctx context.Context, plate string) (*models.Vehicle, error)
}

// SessionStore persists parking sessions. Absent rows surface as
// repository.ErrSessionNotFound.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	FindActiveByVehicleAndLocation(ctx context.Context, vehicleID, locationID int64) (*models.Session, error)
	FindByID(ctx context.Context, id int64) (*models.Session, error)
	Close(ctx context.Context, sessionID int64, exitTime time.Time, priceTotalMinor int64, status string) error
	UpdatePaymentStatus(ctx context.Context, sessionID int64, status string) error
}

// ReservationStore reads and consumes prepaid reservations. Absent rows
// surface as repository.ErrReservationNotFound.
type ReservationStore interface {
	FindActive(ctx context.Context, accountID, locationID int64, at time.Time) (*models.Reservation, error)
	MarkUsed(ctx context.Context, reservationID int64) error
}

// SpotPicker selects a random free spot; repository.ErrNoFreeSpot when
// the location is full.
type SpotPicker interface {
	PickFree(ctx context.Context, locationID int64) (int64, error)
}

// PricingSource loads the fee policy of a location;
// repository.ErrPricingNotFound when none is configured.
type PricingSource interface {
	ForLocation(ctx context.Context, locationID int64) (*models.Pricing, error)
}

// PaymentGateway charges the account wallet.
type PaymentGateway interface {
	Charge(ctx context.Context, accountID, sessionID, amountMinor int64) (clients.ChargeOutcome, error)
}

// PaymentNotifier delivers the payment confirmation email, best effort.
type PaymentNotifier interface {
	PaymentConfirmed(ctx context.Context, confirmation clients.PaymentConfirmation) error
}

// ActiveSessionCache mirrors open sessions in Redis, best effort.
type ActiveSessionCache interface {
	Save(ctx context.Context, session redisstore.ActiveSession) error
	Delete(ctx context.Context, locationID int64, plate string) error
}

// SessionBroadcaster pushes session lifecycle events to live
// subscribers, best effort.
type SessionBroadcaster interface {
	SessionOpened(session models.Session)
	SessionClosed(session models.Session)
}

// EntryInput is an admitted entry detection.
type EntryInput struct {
	Plate      string
	LocationID int64
	CameraID   int
	At         time.Time
}

// ExitInput is an admitted exit detection.
type ExitInput struct {
	Plate      string
	LocationID int64
	CameraID   int
	At         time.Time
}

// PaymentResult reports the billing outcome of a closed session.
// Success=false with a non-zero SessionID means the session closed with
// its fee carried as Pending, not that the exit failed.
type PaymentResult struct {
	Success     bool   `json:"success"`
	SessionID   int64  `json:"session_id"`
	AmountMinor int64  `json:"amount_minor"`
	Err         string `json:"error,omitempty"`
}

// ParkingSessionsService is the session orchestrator, invoked once per
// admitted (non-duplicate) detection event.
type ParkingSessionsService struct {
	sessions     SessionStore
	spots        SpotPicker
	reservations ReservationStore
	pricing      PricingSource
	vehicles     VehicleDirectory
	payments     PaymentGateway
	notifier     PaymentNotifier
	cache        ActiveSessionCache
	broadcaster  SessionBroadcaster
	locks        *locationLocks
	logger       *zap.Logger
}

// NewParkingSessionsService builds the orchestrator. Cache, notifier
// and broadcaster are optional.
func NewParkingSessionsService(
	sessions SessionStore,
	spots SpotPicker,
	reservations ReservationStore,
	pricing PricingSource,
	vehicles VehicleDirectory,
	payments PaymentGateway,
	notifier PaymentNotifier,
	cache ActiveSessionCache,
	broadcaster SessionBroadcaster,
	logger *zap.Logger,
) *ParkingSessionsService {
	return &ParkingSessionsService{
		sessions:     sessions,
		spots:        spots,
		reservations: reservations,
		pricing:      pricing,
		vehicles:     vehicles,
		payments:     payments,
		notifier:     notifier,
		cache:        cache,
		broadcaster:  broadcaster,
		locks:        newLocationLocks(),
		logger:       logger,
	}
}

// NormalizePlate is the canonical form every detection correlates on.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// HandleEntry opens a session for a qualifying entry detection and
// returns its id. A matching paid reservation is consumed for its spot;
// otherwise a random free spot is claimed. No charge occurs at entry.
func (s *ParkingSessionsService) HandleEntry(ctx context.Context, input EntryInput) (int64, error) {
	plate := NormalizePlate(input.Plate)
	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	vehicle, err := s.resolveVehicle(ctx, plate)
	if err != nil {
		return 0, err
	}
	if !vehicle.AccountID.Valid {
		return 0, fmt.Errorf("%w: plate %s", ErrNoAccount, plate)
	}
	accountID := vehicle.AccountID.Int64

	// Reservation consumption and spot allocation for one location must
	// not interleave between concurrent entries.
	release := s.locks.acquire(input.LocationID)
	defer release()

	existing, err := s.sessions.FindActiveByVehicleAndLocation(ctx, vehicle.ID, input.LocationID)
	switch {
	case err == nil:
		s.logger.Warn("entry for vehicle with session already open, returning existing",
			zap.String("plate", plate),
			zap.Int64("vehicle_id", vehicle.ID),
			zap.Int64("location_id", input.LocationID),
			zap.Int64("session_id", existing.ID),
		)
		return existing.ID, nil
	case !errors.Is(err, repository.ErrSessionNotFound):
		return 0, fmt.Errorf("active session lookup: %w", err)
	}

	spotID, reservationID, err := s.allocateSpot(ctx, accountID, input.LocationID, at)
	if err != nil {
		return 0, err
	}

	session := &models.Session{
		LocationID:    input.LocationID,
		SpotID:        spotID,
		VehicleID:     vehicle.ID,
		AccountID:     null.IntFrom(accountID),
		ReservationID: reservationID,
		EntryTime:     at.UTC(),
		PaymentStatus: models.PaymentStatusActive,
	}
	saved, err := s.sessions.Create(ctx, session)
	if err != nil {
		return 0, fmt.Errorf("persist session: %w", err)
	}

	s.cacheOpened(ctx, plate, saved)
	if s.broadcaster != nil {
		s.broadcaster.SessionOpened(*saved)
	}

	s.logger.Info("parking session opened",
		zap.String("plate", plate),
		zap.Int64("session_id", saved.ID),
		zap.Int64("location_id", input.LocationID),
		zap.Int64("spot_id", spotID),
		zap.Int("camera_id", input.CameraID),
		zap.Bool("from_reservation", reservationID.Valid),
	)
	return saved.ID, nil
}

// allocateSpot runs under the location lock. It prefers the spot of a
// live paid reservation, consuming it, and falls back to a random free
// spot when the reservation slips away mid-flight.
func (s *ParkingSessionsService) allocateSpot(ctx context.Context, accountID, locationID int64, at time.Time) (int64, null.Int, error) {
	res, err := s.reservations.FindActive(ctx, accountID, locationID, at)
	switch {
	case err == nil:
		if markErr := s.reservations.MarkUsed(ctx, res.ID); markErr != nil {
			if !errors.Is(markErr, repository.ErrReservationNotFound) {
				return 0, null.Int{}, fmt.Errorf("consume reservation %d: %w", res.ID, markErr)
			}
			s.logger.Warn("reservation consumed by another entry, falling back to random spot",
				zap.Int64("reservation_id", res.ID),
			)
		} else {
			return res.SpotID, null.IntFrom(res.ID), nil
		}
	case !errors.Is(err, repository.ErrReservationNotFound):
		return 0, null.Int{}, fmt.Errorf("reservation lookup: %w", err)
	}

	spotID, err := s.spots.PickFree(ctx, locationID)
	if err != nil {
		if errors.Is(err, repository.ErrNoFreeSpot) {
			return 0, null.Int{}, fmt.Errorf("%w: location %d", ErrNoFreeSpots, locationID)
		}
		return 0, null.Int{}, fmt.Errorf("pick free spot: %w", err)
	}
	return spotID, null.Int{}, nil
}

// HandleExit closes the active session for the vehicle, computes the
// fee and attempts the charge. The physical exit is never blocked by
// the payment outcome: any charge failure closes the session as Pending
// and the spot is freed either way.
func (s *ParkingSessionsService) HandleExit(ctx context.Context, input ExitInput) (PaymentResult, error) {
	plate := NormalizePlate(input.Plate)
	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	vehicle, err := s.resolveVehicle(ctx, plate)
	if err != nil {
		return PaymentResult{}, err
	}

	session, err := s.sessions.FindActiveByVehicleAndLocation(ctx, vehicle.ID, input.LocationID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return PaymentResult{}, fmt.Errorf("%w: plate %s, location %d", ErrExitWithoutEntry, plate, input.LocationID)
		}
		return PaymentResult{}, fmt.Errorf("active session lookup: %w", err)
	}

	pricing, err := s.pricing.ForLocation(ctx, input.LocationID)
	if err != nil {
		if errors.Is(err, repository.ErrPricingNotFound) {
			return PaymentResult{}, fmt.Errorf("%w: location %d", ErrNoPricing, input.LocationID)
		}
		return PaymentResult{}, fmt.Errorf("pricing lookup: %w", err)
	}

	duration := DurationMinutes(session.EntryTime, at)
	amount := ComputeFee(duration, pricing)

	charged := true
	var chargeErr string
	if amount > 0 {
		charged, chargeErr = s.charge(ctx, session, amount)
	}

	status := models.PaymentStatusPaid
	if !charged {
		status = models.PaymentStatusPending
	}

	if err := s.sessions.Close(ctx, session.ID, at.UTC(), amount, status); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Lost the close race: another exit already finalized it.
			return PaymentResult{}, fmt.Errorf("%w: session %d already closed", ErrExitWithoutEntry, session.ID)
		}
		return PaymentResult{}, fmt.Errorf("close session: %w", err)
	}

	s.cacheClosed(ctx, plate, session)
	if s.broadcaster != nil {
		closed := *session
		closed.ExitTime = null.TimeFrom(at.UTC())
		closed.PriceTotalMinor = null.IntFrom(amount)
		closed.PaymentStatus = status
		s.broadcaster.SessionClosed(closed)
	}

	if charged && amount > 0 {
		s.notifyPaid(ctx, session, at, amount, duration)
	}

	s.logger.Info("parking session closed",
		zap.String("plate", plate),
		zap.Int64("session_id", session.ID),
		zap.Int64("duration_minutes", duration),
		zap.Int64("amount_minor", amount),
		zap.String("payment_status", status),
	)

	return PaymentResult{
		Success:     charged,
		SessionID:   session.ID,
		AmountMinor: amount,
		Err:         chargeErr,
	}, nil
}

// SettlePendingSession charges a closed session whose fee could not be
// collected at exit time. Already paid sessions settle idempotently.
func (s *ParkingSessionsService) SettlePendingSession(ctx context.Context, sessionID int64) (PaymentResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return PaymentResult{}, err
	}
	if session.Open() {
		return PaymentResult{}, fmt.Errorf("%w: session %d", ErrSessionStillOpen, sessionID)
	}

	amount := session.PriceTotalMinor.ValueOrZero()
	if session.PaymentStatus == models.PaymentStatusPaid {
		return PaymentResult{Success: true, SessionID: sessionID, AmountMinor: amount}, nil
	}

	if amount == 0 {
		if err := s.sessions.UpdatePaymentStatus(ctx, sessionID, models.PaymentStatusPaid); err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Success: true, SessionID: sessionID}, nil
	}

	if !session.AccountID.Valid {
		return PaymentResult{}, fmt.Errorf("%w: session %d", ErrNoAccount, sessionID)
	}

	charged, chargeErr := s.charge(ctx, session, amount)
	if !charged {
		return PaymentResult{SessionID: sessionID, AmountMinor: amount, Err: chargeErr}, nil
	}

	if err := s.sessions.UpdatePaymentStatus(ctx, sessionID, models.PaymentStatusPaid); err != nil {
		return PaymentResult{}, err
	}
	s.notifyPaid(ctx, session, session.ExitTime.ValueOrZero(), amount,
		DurationMinutes(session.EntryTime, session.ExitTime.ValueOrZero()))

	return PaymentResult{Success: true, SessionID: sessionID, AmountMinor: amount}, nil
}

func (s *ParkingSessionsService) resolveVehicle(ctx context.Context, plate string) (*models.Vehicle, error) {
	vehicle, err := s.vehicles.FindByPlate(ctx, plate)
	if err != nil {
		if errors.Is(err, clients.ErrVehicleNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVehicleNotFound, plate)
		}
		return nil, fmt.Errorf("vehicle lookup: %w", err)
	}
	return vehicle, nil
}

// charge calls the wallet. Refusals, transport errors and missing
// accounts all degrade to "not charged" so the caller can close the
// session as Pending.
func (s *ParkingSessionsService) charge(ctx context.Context, session *models.Session, amount int64) (bool, string) {
	if !session.AccountID.Valid {
		s.logger.Warn("session has no account to charge, carrying as pending",
			zap.Int64("session_id", session.ID),
		)
		return false, "no account to charge"
	}

	outcome, err := s.payments.Charge(ctx, session.AccountID.Int64, session.ID, amount)
	if err != nil {
		s.logger.Warn("charge unavailable, carrying fee as pending",
			zap.Int64("session_id", session.ID),
			zap.Int64("amount_minor", amount),
			zap.Error(err),
		)
		return false, "charge unavailable"
	}
	if !outcome.Success {
		s.logger.Warn("charge refused, carrying fee as pending",
			zap.Int64("session_id", session.ID),
			zap.Int64("amount_minor", amount),
			zap.String("reference", outcome.Reference),
		)
		return false, "charge refused"
	}
	return true, ""
}

func (s *ParkingSessionsService) notifyPaid(ctx context.Context, session *models.Session, exitTime time.Time, amount, duration int64) {
	if s.notifier == nil || !session.AccountID.Valid {
		return
	}
	err := s.notifier.PaymentConfirmed(ctx, clients.PaymentConfirmation{
		AccountID:       session.AccountID.Int64,
		SessionID:       session.ID,
		EntryTime:       session.EntryTime,
		ExitTime:        exitTime.UTC(),
		AmountMinor:     amount,
		DurationMinutes: duration,
	})
	if err != nil {
		s.logger.Warn("payment confirmation not delivered",
			zap.Int64("session_id", session.ID),
			zap.Error(err),
		)
	}
}

func (s *ParkingSessionsService) cacheOpened(ctx context.Context, plate string, session *models.Session) {
	if s.cache == nil {
		return
	}
	err := s.cache.Save(ctx, redisstore.ActiveSession{
		SessionID:  session.ID,
		LocationID: session.LocationID,
		SpotID:     session.SpotID,
		VehicleID:  session.VehicleID,
		Plate:      plate,
		EntryTime:  session.EntryTime,
	})
	if err != nil {
		s.logger.Warn("failed to cache active session", zap.Error(err))
	}
}

func (s *ParkingSessionsService) cacheClosed(ctx context.Context, plate string, session *models.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, session.LocationID, plate); err != nil {
		s.logger.Warn("failed to evict active session cache", zap.Error(err))
	}
}
