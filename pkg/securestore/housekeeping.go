package securestore

import (
	"context"
	"log/slog"
	"time"
)

// Housekeeper periodically purges expired records from backends that do not
// expire them natively (sqlite). Memory and redis drivers expire on their own.
type Housekeeper struct {
	Purger   Purger
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper creates a housekeeper with the given interval.
// If interval is 0 or negative, defaults to 10 minutes.
func NewHousekeeper(purger Purger, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Housekeeper{
		Purger:   purger,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (h *Housekeeper) Start() {
	go h.run()
	h.Logger.Debug("secure store housekeeping started", "interval", h.Interval)
}

// Stop blocks until the worker has finished any in-progress purge.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Debug("secure store housekeeping stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	// Purge immediately on startup, a cold start is when stale JWTs pile up
	h.purge()

	for {
		select {
		case <-ticker.C:
			h.purge()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), h.Interval)
	defer cancel()

	n, err := h.Purger.DeleteExpired(ctx)
	if err != nil {
		h.Logger.Warn("failed to purge expired secure records", "error", err)
		return
	}
	if n > 0 {
		h.Logger.Debug("purged expired secure records", "count", n)
	}
}
