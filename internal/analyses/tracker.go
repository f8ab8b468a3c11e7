package analyses

import (
	"context"
	"time"

	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/telemetry"
)

// StatusTracker answers status polls and cancellations for analysis ids.
type StatusTracker struct {
	table     *jobTable
	now       func() time.Time
	retention time.Duration
	// cancelJob ends a job whose subscriptions have all cancelled.
	cancelJob func(*Job)
}

func (t *StatusTracker) lookup(analysisID string) (*subscription, error) {
	sub, ok := t.table.sub(analysisID)
	if !ok {
		return nil, errs.New(errs.NotFound, "analysis not found")
	}
	if sub.expiredAt(t.now(), t.retention) {
		t.table.removeSub(analysisID)
		return nil, errs.New(errs.NotFound, "analysis not found")
	}
	return sub, nil
}

// GetStatus returns the current state of analysisID, or a NotFound error when the id is
// unknown or past the retention window.
func (t *StatusTracker) GetStatus(ctx context.Context, analysisID string) (StatusView, error) {
	_ = ctx
	sub, err := t.lookup(analysisID)
	if err != nil {
		return StatusView{}, err
	}
	return sub.view(), nil
}

// Cancel finalizes analysisID as cancelled. The shared job is cancelled only when every
// subscription has cancelled and its result has not been committed. Cancelling a terminal
// analysis is a no-op.
func (t *StatusTracker) Cancel(ctx context.Context, analysisID string) (StatusView, error) {
	sub, err := t.lookup(analysisID)
	if err != nil {
		return StatusView{}, err
	}

	j := sub.job
	j.mu.Lock()
	if sub.cancelled || j.status.Terminal() {
		j.mu.Unlock()
		return sub.view(), nil
	}
	sub.cancelled = true
	sub.cancelledAt = t.now()
	sub.cancelProgress = j.progress
	close(sub.cancelledCh)
	j.live--
	stopJob := j.live == 0 && !j.committed
	if stopJob {
		j.cancelRequested = true
	}
	remaining := j.live
	j.mu.Unlock()

	telemetry.Info("analysis.cancel", map[string]any{
		"request_id":         requestIDFromContext(ctx),
		"analysis_id":        analysisID,
		"job_id":             j.id,
		"content_key":        j.request.ContentKey,
		"remaining_watchers": remaining,
		"job_cancelled":      stopJob,
	})
	if stopJob && t.cancelJob != nil {
		t.cancelJob(j)
	}
	return sub.view(), nil
}

// Wait blocks until analysisID reaches a terminal state or ctx ends.
func (t *StatusTracker) Wait(ctx context.Context, analysisID string) (StatusView, error) {
	sub, err := t.lookup(analysisID)
	if err != nil {
		return StatusView{}, err
	}
	select {
	case <-sub.job.done:
	case <-sub.cancelledCh:
	case <-ctx.Done():
		return sub.view(), ctx.Err()
	}
	return sub.view(), nil
}

// Sweep drops analysis ids that are terminal and older than the retention window.
func (t *StatusTracker) Sweep() int {
	return t.table.sweep(t.now(), t.retention)
}
