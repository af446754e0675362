package cron

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	. "github.com/roelfdiedericks/voxledger/internal/metrics"
)

// Job names.
const (
	JobSweep     = "sweep"
	JobIdleReset = "idle-reset"
	JobSummary   = "cost-summary"
)

// SweepJob deletes regular files in dir older than maxAge. Downloads of
// failed jobs are left behind for a manual re-run; this bounds how long.
func SweepJob(schedule, dir string, maxAge time.Duration, now func() time.Time) Job {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return Job{
		Name:     JobSweep,
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			removed, err := SweepDir(ctx, dir, now().Add(-maxAge))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("removed %d files", removed), nil
		},
	}
}

// SweepDir removes files in dir last modified before cutoff.
func SweepDir(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			L_warn("cron: failed to remove stale file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		L_info("cron: swept work dir", "dir", dir, "removed", removed)
		MetricAdd("cron", "swept_files", int64(removed))
	}
	return removed, nil
}

// IdleResetter is implemented by *session.Store.
type IdleResetter interface {
	ResetIdle(maxAge time.Duration) int
}

// IdleResetJob returns sessions stuck mid-flow for longer than maxAge to idle.
func IdleResetJob(schedule string, store IdleResetter, maxAge time.Duration) Job {
	return Job{
		Name:     JobIdleReset,
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			n := store.ResetIdle(maxAge)
			if n > 0 {
				L_info("cron: reset idle sessions", "count", n)
			}
			return fmt.Sprintf("reset %d sessions", n), nil
		},
	}
}

// StatsSource is implemented by *ledger.Ledger.
type StatsSource interface {
	Stats() ledger.Stats
}

// SummaryJob logs the day's spending and a metrics snapshot.
func SummaryJob(schedule string, costs StatsSource) Job {
	return Job{
		Name:     JobSummary,
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			st := costs.Stats()
			L_info("cron: daily cost summary",
				"today", fmt.Sprintf("$%.4f", st.Today),
				"month", fmt.Sprintf("$%.4f", st.ThisMonth),
				"total", fmt.Sprintf("$%.4f", st.Total),
				"transactions", st.Transactions,
			)
			for name, ft := range st.FreeTier {
				if ft.Percentage >= 80 {
					L_warn("cron: free tier nearly used", "provider", name, "used", ft.Used, "limit", ft.Limit)
				}
			}
			for _, snap := range GetInstance().Snapshot() {
				L_debug("cron: metric", "path", snap.Path, "type", snap.Type, "data", snap.Data)
			}
			return fmt.Sprintf("today $%.4f, month $%.4f", st.Today, st.ThisMonth), nil
		},
	}
}
