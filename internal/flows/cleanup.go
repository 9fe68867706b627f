package flows

import (
	"context"
	"errors"
	"time"
)

type CleanupDeps struct {
	ContentTTL   time.Duration
	ReplayWindow time.Duration
	Hardened     bool

	Now            func() time.Time
	ScrubOlderThan func(context.Context, time.Time) (int, error)
	PurgeDates     func(context.Context, time.Time) (int, error)
	PurgePending   func(context.Context, time.Time) (int, error)
}

// CleanupResult counts what one sweep changed. Err joins the failures of
// individual steps; the other steps still ran.
type CleanupResult struct {
	Scrubbed      int
	DatesPurged   int
	PendingPurged int
	Err           error
}

// RunCleanup applies the retention policy. Message ids are never removed:
// content older than ContentTTL is scrubbed, and placeholder dates older
// than ReplayWindow (or all of them when Hardened) are cleared.
func RunCleanup(ctx context.Context, deps CleanupDeps) CleanupResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now()
	var res CleanupResult
	var errs []error

	if deps.ContentTTL > 0 && deps.ScrubOlderThan != nil {
		n, err := deps.ScrubOlderThan(ctx, now.Add(-deps.ContentTTL))
		res.Scrubbed = n
		errs = append(errs, err)
	}

	if deps.PurgeDates != nil {
		var cutoff time.Time
		if !deps.Hardened {
			window := deps.ReplayWindow
			if window <= 0 {
				window = 14 * 24 * time.Hour
			}
			cutoff = now.Add(-window)
		}
		n, err := deps.PurgeDates(ctx, cutoff)
		res.DatesPurged = n
		errs = append(errs, err)
	}

	if deps.PurgePending != nil {
		n, err := deps.PurgePending(ctx, now)
		res.PendingPurged = n
		errs = append(errs, err)
	}

	res.Err = errors.Join(errs...)
	return res
}
