package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWindow is the span within which a second detection for the
	// same (plate, location, direction) is a redelivery, not a new event.
	DefaultWindow = 60 * time.Second

	// DefaultSweepInterval bounds memory by evicting stale keys.
	DefaultSweepInterval = 2 * time.Minute

	// sweepMargin keeps entries a little past the window so a late
	// redelivery still matches before eviction.
	sweepMargin = 60 * time.Second
)

// Window is a time-bounded cache of recently seen detection events.
// Entries are process-local; a restart loses them, which only re-admits
// genuine duplicates and is safe.
type Window struct {
	window        time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewWindow builds a dedup window. Zero durations fall back to defaults.
func NewWindow(window, sweepInterval time.Duration, logger *zap.Logger) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Window{
		window:        window,
		sweepInterval: sweepInterval,
		logger:        logger,
		seen:          make(map[string]time.Time),
	}
}

// IsDuplicate reports whether the event is a redelivery within the
// window. The first sighting of a key records it and returns false; a
// sighting past the window refreshes the key and returns false.
// Malformed input cannot be deduplicated and fails open: the event is
// processed rather than silently dropped.
//
// Check and record happen under one lock so two concurrent deliveries
// of the same event cannot both pass.
func (w *Window) IsDuplicate(plate string, locationID int64, direction string, at time.Time) bool {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	direction = strings.ToLower(strings.TrimSpace(direction))
	if plate == "" || direction == "" || locationID == 0 {
		return false
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	key := fmt.Sprintf("%s|%d|%s", plate, locationID, direction)

	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.seen[key]
	if ok {
		if elapsed := at.Sub(last); elapsed < w.window {
			w.logger.Warn("duplicate detection event rejected",
				zap.String("plate", plate),
				zap.Int64("location_id", locationID),
				zap.String("direction", direction),
				zap.Duration("since_last", elapsed),
			)
			return true
		}
	}
	w.seen[key] = at
	return false
}

// Run owns the eviction sweep until ctx is cancelled.
func (w *Window) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(time.Now().UTC())
		}
	}
}

func (w *Window) sweep(now time.Time) {
	cutoff := now.Add(-(w.window + sweepMargin))

	w.mu.Lock()
	before := len(w.seen)
	for key, last := range w.seen {
		if last.Before(cutoff) {
			delete(w.seen, key)
		}
	}
	after := len(w.seen)
	w.mu.Unlock()

	if before > after {
		w.logger.Debug("dedup window swept",
			zap.Int("evicted", before-after),
			zap.Int("remaining", after),
		)
	}
}

// Size returns the number of tracked keys, for monitoring.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
