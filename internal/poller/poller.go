package poller

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CheckResult is one poll's answer.
type CheckResult struct {
	NewOrder   bool
	LatestID   int64
	LatestTime time.Time
}

// CheckFunc asks the server whether an order arrived after lastCheck. A
// zero lastCheck means the caller has no baseline yet.
type CheckFunc func(ctx context.Context, lastCheck time.Time) (*CheckResult, error)

// Poller runs CheckFunc on an adaptive schedule and reports new orders.
// The server answers relative to the last check time; the poller also
// tracks the newest order id it has reported so a delayed response never
// reannounces an order it already surfaced.
type Poller struct {
	schedule *Schedule
	check    CheckFunc
	onNew    func(CheckResult)
	logger   *zap.Logger

	lastCheck time.Time
	lastID    int64
}

// New creates a poller. onNew is invoked for every poll that detects a new
// order; it runs on the poller goroutine. The baseline is seeded at
// construction time, so the first poll only announces orders that arrive
// after the poller exists, never the shop's old latest order.
func New(schedule *Schedule, check CheckFunc, onNew func(CheckResult), logger *zap.Logger) *Poller {
	return &Poller{
		schedule:  schedule,
		check:     check,
		onNew:     onNew,
		logger:    logger,
		lastCheck: time.Now(),
	}
}

// Activity resets the schedule, mirroring a user interaction.
func (p *Poller) Activity() {
	p.schedule.Activity()
}

// Run polls until ctx is cancelled. The first poll happens after one base
// interval, not immediately, so a page load does not double-check.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(p.schedule.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		result, err := p.check(ctx, p.lastCheck)
		var next time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("order check failed", zap.Error(err))
			next = p.schedule.Idle()
		case result.NewOrder && result.LatestID > p.lastID:
			p.schedule.Activity()
			p.lastID = result.LatestID
			p.lastCheck = result.LatestTime
			p.logger.Info("new order detected by poll",
				zap.Int64("order_id", result.LatestID),
				zap.Time("created_at", result.LatestTime),
			)
			if p.onNew != nil {
				p.onNew(*result)
			}
			next = p.schedule.Interval()
		default:
			if result.LatestID > p.lastID {
				p.lastID = result.LatestID
			}
			if !result.LatestTime.IsZero() {
				p.lastCheck = result.LatestTime
			} else {
				p.lastCheck = time.Now()
			}
			next = p.schedule.Idle()
		}

		timer.Reset(next)
	}
}
