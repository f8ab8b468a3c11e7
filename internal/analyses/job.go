package analyses

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/shared/errs"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s never transitions further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AnalysisRequest is one submission resolved to its content key.
type AnalysisRequest struct {
	RawURL        string
	NormalizedURL string
	ContentKey    string
	ForceRefresh  bool
}

// Job is the unit of work for one content key. Several analysis ids may share it; its id is
// the analysis id of the request that created it.
type Job struct {
	id        string
	request   AnalysisRequest
	platform  platform.Platform
	requestID string

	ctx    context.Context
	cancel context.CancelFunc
	// budget is ctx bounded by the end-to-end timeout, counted from creation so that
	// time spent queued is charged to the job.
	budget     context.Context
	stopBudget context.CancelFunc
	done       chan struct{}

	mu              sync.Mutex
	status          Status
	progress        float64
	retryCount      int
	createdAt       time.Time
	updatedAt       time.Time
	startedAt       time.Time
	finishedAt      time.Time
	err             *errs.AppError
	result          *model.AnalysisResult
	live            int  // subscriptions that have not cancelled
	cancelRequested bool // every subscription cancelled
	committed       bool // the cache write was accepted; cancellation no longer stops the job
}

func newJob(id string, req AnalysisRequest, plat platform.Platform, requestID string, now time.Time, timeout time.Duration) *Job {
	ctx, cancel := detachedJobContext(requestID)
	budget, stopBudget := context.WithTimeout(ctx, timeout)
	return &Job{
		id:         id,
		request:    req,
		platform:   plat,
		requestID:  requestID,
		ctx:        ctx,
		cancel:     cancel,
		budget:     budget,
		stopBudget: stopBudget,
		done:       make(chan struct{}),
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

// timedOut reports whether the job's end-to-end budget ran out, as opposed to being cancelled.
func (j *Job) timedOut() bool {
	return errors.Is(j.budget.Err(), context.DeadlineExceeded)
}

// attach registers sub with the job unless the job can no longer be joined.
func (j *Job) attach(sub *subscription) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() || j.cancelRequested {
		return false
	}
	j.live++
	sub.job = j
	return true
}

// commit is the cache write guard. It runs under the job lock so that a concurrent
// cancellation either vetoes the write or observes committed and leaves the job running.
func (j *Job) commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested || j.status.Terminal() {
		return errAbandoned
	}
	j.committed = true
	return nil
}

func (j *Job) isCommitted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal()
}

func (j *Job) advance(progress float64, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusProcessing || progress <= j.progress {
		return
	}
	j.progress = progress
	j.updatedAt = now
}

func (j *Job) addRetry(now time.Time) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retryCount++
	j.updatedAt = now
	return j.retryCount
}

// subscription is the state behind one analysis id.
type subscription struct {
	id        string
	job       *Job
	createdAt time.Time
	joined    bool

	// guarded by job.mu
	cancelled      bool
	cancelledAt    time.Time
	cancelProgress float64
	cancelledCh    chan struct{}
}

func newSubscription(id string, now time.Time) *subscription {
	return &subscription{id: id, createdAt: now, cancelledCh: make(chan struct{})}
}

// view snapshots the subscription. A cancelled subscription reports cancelled even when
// the shared job went on to complete for other subscribers.
func (s *subscription) view() StatusView {
	j := s.job
	j.mu.Lock()
	defer j.mu.Unlock()
	v := StatusView{
		AnalysisID: s.id,
		Status:     j.status,
		Progress:   j.progress,
		RetryCount: j.retryCount,
		ContentKey: j.request.ContentKey,
		Platform:   j.platform,
		CreatedAt:  s.createdAt,
		UpdatedAt:  j.updatedAt,
	}
	if s.cancelled {
		v.Status = StatusCancelled
		v.Progress = s.cancelProgress
		v.UpdatedAt = s.cancelledAt
		v.Error = errorView(errs.New(errs.Cancelled, "analysis cancelled"))
		return v
	}
	if j.status == StatusCompleted && j.result != nil {
		result := j.result.Clone()
		v.Result = &result
	}
	if j.err != nil {
		v.Error = errorView(j.err)
	}
	return v
}

// expiredAt reports whether the subscription is terminal and older than retention.
func (s *subscription) expiredAt(now time.Time, retention time.Duration) bool {
	j := s.job
	j.mu.Lock()
	defer j.mu.Unlock()
	var finished time.Time
	switch {
	case s.cancelled:
		finished = s.cancelledAt
	case j.status.Terminal():
		finished = j.finishedAt
	default:
		return false
	}
	return !now.Before(finished.Add(retention))
}

// StatusView is the client-facing state of one analysis id.
type StatusView struct {
	AnalysisID string                `json:"analysis_id"`
	Status     Status                `json:"status"`
	Progress   float64               `json:"progress"`
	RetryCount int                   `json:"retry_count"`
	ContentKey string                `json:"content_key"`
	Platform   platform.Platform     `json:"platform"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Result     *model.AnalysisResult `json:"result,omitempty"`
	Error      *ErrorView            `json:"error,omitempty"`
}

// ErrorView is the structured cause reported with failed and cancelled analyses.
type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorView(err *errs.AppError) *ErrorView {
	if err == nil {
		return nil
	}
	return &ErrorView{Kind: err.Kind.String(), Message: sanitizeError(err)}
}

const tableShards = 32

// jobTable indexes subscriptions by analysis id and live jobs by content key.
type jobTable struct {
	subs [tableShards]subShard
	live [tableShards]liveShard
}

type subShard struct {
	mu sync.RWMutex
	m  map[string]*subscription
}

type liveShard struct {
	mu sync.Mutex
	m  map[string]*Job
}

func newJobTable() *jobTable {
	t := &jobTable{}
	for i := range t.subs {
		t.subs[i].m = make(map[string]*subscription)
		t.live[i].m = make(map[string]*Job)
	}
	return t
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % tableShards)
}

func (t *jobTable) addSub(sub *subscription) {
	shard := &t.subs[shardOf(sub.id)]
	shard.mu.Lock()
	shard.m[sub.id] = sub
	shard.mu.Unlock()
}

func (t *jobTable) sub(id string) (*subscription, bool) {
	shard := &t.subs[shardOf(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sub, ok := shard.m[id]
	return sub, ok
}

func (t *jobTable) removeSub(id string) {
	shard := &t.subs[shardOf(id)]
	shard.mu.Lock()
	delete(shard.m, id)
	shard.mu.Unlock()
}

// joinOrCreate attaches sub to the live job for key. Otherwise it builds a job with create,
// attaches sub and installs the job once schedule accepts it. A job that schedule rejects is
// returned with the error and never becomes joinable.
func (t *jobTable) joinOrCreate(key string, sub *subscription, create func() *Job, schedule func(*Job) error) (*Job, bool, error) {
	shard := &t.live[shardOf(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if j, ok := shard.m[key]; ok && j.attach(sub) {
		return j, false, nil
	}
	j := create()
	j.attach(sub)
	if err := schedule(j); err != nil {
		return j, true, err
	}
	shard.m[key] = j
	return j, true, nil
}

// dropLive removes j from the live index if it is still the live job for its key.
func (t *jobTable) dropLive(j *Job) {
	key := j.request.ContentKey
	shard := &t.live[shardOf(key)]
	shard.mu.Lock()
	if shard.m[key] == j {
		delete(shard.m, key)
	}
	shard.mu.Unlock()
}

func (t *jobTable) liveCount() int {
	n := 0
	for i := range t.live {
		t.live[i].mu.Lock()
		n += len(t.live[i].m)
		t.live[i].mu.Unlock()
	}
	return n
}

// sweep drops subscriptions past retention and returns how many were removed.
func (t *jobTable) sweep(now time.Time, retention time.Duration) int {
	removed := 0
	for i := range t.subs {
		shard := &t.subs[i]
		shard.mu.Lock()
		for id, sub := range shard.m {
			if sub.expiredAt(now, retention) {
				delete(shard.m, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
