// Lazy expiry only removes keys that are read again. A key written once and never touched keeps its memory until a
// bulk operation happens to sweep it. The janitor bounds that window by sweeping on a fixed interval in the background.

package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/nobletooth/memo/pkg/utils"
)

// RunJanitor sweeps `sweeper` every `interval` until `ctx` is done. It blocks, so run it in its own goroutine.
func RunJanitor(ctx context.Context, sweeper Sweeper, interval time.Duration) {
	if interval <= 0 {
		utils.RaiseInvariant("janitor", "non_positive_sweep_interval",
			"Janitor has been given an invalid sweep interval, not starting.", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sweeper.Sweep(); removed > 0 {
				slog.Debug("Janitor swept expired items.", "removed", removed)
			}
		}
	}
}
