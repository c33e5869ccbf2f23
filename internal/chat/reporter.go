package chat

import (
	"context"
	"strings"
	"time"

	"github.com/ssafy13th-common/glml-chat/internal/logger"
)

// DefaultReportInterval is the periodic read-report cadence.
const DefaultReportInterval = 10 * time.Second

// ReadReportFunc posts the latest-read message for a room to the backend.
// The REST client satisfies it.
type ReadReportFunc func(ctx context.Context, roomID, messageID string) error

// Reporter tells the server the newest message the current user has seen:
// on a fixed interval while the session runs, and immediately when a peer
// message arrives. Failures are silent; the next tick retries.
type Reporter struct {
	store    *Store
	report   ReadReportFunc
	interval time.Duration
}

// NewReporter builds a reporter. interval <= 0 takes the default.
func NewReporter(store *Store, report ReadReportFunc, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{store: store, report: report, interval: interval}
}

// Run reports on every tick until ctx is cancelled. Room exit cancels it.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReportNow(ctx)
		}
	}
}

// ReportNow reports the latest known message once. A room with no loaded
// messages, or whose newest entry still carries a temporary identifier,
// is skipped.
func (r *Reporter) ReportNow(ctx context.Context) {
	snap := r.store.Snapshot()
	latest := snap.LatestMessage()
	if latest == nil || strings.HasPrefix(latest.ID, "tmp-") {
		return
	}
	if err := r.report(ctx, snap.RoomID, latest.ID); err != nil {
		// Retried on the next tick.
		logger.Debugf("chat: read report room=%s msg=%s: %v", snap.RoomID, latest.ID, err)
	}
}
