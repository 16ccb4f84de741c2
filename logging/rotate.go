package logging

import (
	"context"
	"log/slog"
	"time"
)

// Rotator is implemented by *lumberjack.Logger.
type Rotator interface {
	Rotate() error
}

// DailyRotator rotates a log file at every local midnight, keeping one file
// per day. It runs as a supervised service.
type DailyRotator struct {
	file   Rotator
	logger *slog.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
}

// RotateDaily returns a DailyRotator for file.
func RotateDaily(file Rotator, logger *slog.Logger) *DailyRotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyRotator{
		file:   file,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}
}

// Serve rotates at each midnight until ctx is done.
func (r *DailyRotator) Serve(ctx context.Context) error {
	for {
		wait := nextMidnight(r.now()).Sub(r.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(wait):
			if err := r.file.Rotate(); err != nil {
				r.logger.Error("Log rotation failed", "error", err)
				continue
			}
			r.logger.Debug("Log file rotated")
		}
	}
}

func (r *DailyRotator) String() string {
	return "log-rotator"
}

// nextMidnight returns the first local midnight strictly after t.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
