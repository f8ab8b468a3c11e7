package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsStartedTotal        atomic.Uint64
	jobsCompletedTotal      atomic.Uint64
	jobsFailedTotal         atomic.Uint64
	jobsCancelledTotal      atomic.Uint64
	jobsJoinedTotal         atomic.Uint64
	jobRetriesTotal         atomic.Uint64
	backpressureTotal       atomic.Uint64
	cacheHitsTotal          atomic.Uint64
	cacheMissesTotal        atomic.Uint64
	cacheSharedTotal        atomic.Uint64
	cacheStoresTotal        atomic.Uint64
	cacheStoreErrorsTotal   atomic.Uint64
	extractRetriesTotal     atomic.Uint64
	aiRetriesTotal          atomic.Uint64
	warmupReceivedTotal     atomic.Uint64
	warmupFailedTotal       atomic.Uint64
	warmupCompletedTotal    atomic.Uint64
	warmupDeletedBadMessage atomic.Uint64

	failuresMu     sync.Mutex
	failuresByKind = map[string]uint64{}

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncJobStarted counts a job moving to processing.
func IncJobStarted() { jobsStartedTotal.Add(1) }

// IncJobCompleted counts a completed job.
func IncJobCompleted() { jobsCompletedTotal.Add(1) }

// IncJobFailed counts a failed job by error kind.
func IncJobFailed(kind string) {
	jobsFailedTotal.Add(1)
	failuresMu.Lock()
	failuresByKind[kind]++
	failuresMu.Unlock()
}

// IncJobCancelled counts a cancelled job.
func IncJobCancelled() { jobsCancelledTotal.Add(1) }

// IncJobJoined counts a submission that attached to a live job.
func IncJobJoined() { jobsJoinedTotal.Add(1) }

// IncJobRetry counts a job-level retry.
func IncJobRetry() { jobRetriesTotal.Add(1) }

// IncBackpressure counts a submission rejected because the worker queue was full.
func IncBackpressure() { backpressureTotal.Add(1) }

// IncCacheHit counts a valid cache read.
func IncCacheHit() { cacheHitsTotal.Add(1) }

// IncCacheMiss counts a cache read that found nothing valid.
func IncCacheMiss() { cacheMissesTotal.Add(1) }

// IncCacheShared counts a caller served by another caller's in-flight computation.
func IncCacheShared() { cacheSharedTotal.Add(1) }

// IncCacheStore counts a written cache entry.
func IncCacheStore() { cacheStoresTotal.Add(1) }

// IncCacheStoreError counts a failed backend read or write.
func IncCacheStoreError() { cacheStoreErrorsTotal.Add(1) }

// IncExtractRetry counts a call-level extractor retry.
func IncExtractRetry() { extractRetriesTotal.Add(1) }

// IncAIRetry counts a call-level AI retry.
func IncAIRetry() { aiRetriesTotal.Add(1) }

// IncWarmupReceived counts a warmup queue message.
func IncWarmupReceived() { warmupReceivedTotal.Add(1) }

// IncWarmupFailed counts a warmup message left for redelivery.
func IncWarmupFailed() { warmupFailedTotal.Add(1) }

// IncWarmupCompleted counts a warmup message whose analysis finished.
func IncWarmupCompleted() { warmupCompletedTotal.Add(1) }

// IncWarmupDeletedUnrecoverable counts a malformed warmup message that was dropped.
func IncWarmupDeletedUnrecoverable() { warmupDeletedBadMessage.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_jobs_started_total", "Analysis jobs that reached processing", jobsStartedTotal.Load())
	writeCounter(&buf, "analysis_jobs_completed_total", "Analysis jobs completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Analysis jobs failed", jobsFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_cancelled_total", "Analysis jobs cancelled", jobsCancelledTotal.Load())
	writeCounter(&buf, "analysis_jobs_joined_total", "Submissions attached to a live job", jobsJoinedTotal.Load())
	writeCounter(&buf, "analysis_job_retries_total", "Job-level retries", jobRetriesTotal.Load())
	writeCounter(&buf, "analysis_backpressure_total", "Submissions rejected by a full worker queue", backpressureTotal.Load())
	writeCounter(&buf, "result_cache_hits_total", "Result cache hits", cacheHitsTotal.Load())
	writeCounter(&buf, "result_cache_misses_total", "Result cache misses", cacheMissesTotal.Load())
	writeCounter(&buf, "result_cache_shared_total", "Callers served by a shared in-flight computation", cacheSharedTotal.Load())
	writeCounter(&buf, "result_cache_stores_total", "Result cache entries written", cacheStoresTotal.Load())
	writeCounter(&buf, "result_cache_store_errors_total", "Result cache backend errors", cacheStoreErrorsTotal.Load())
	writeCounter(&buf, "extract_retries_total", "Extractor call-level retries", extractRetriesTotal.Load())
	writeCounter(&buf, "ai_retries_total", "AI call-level retries", aiRetriesTotal.Load())
	writeCounter(&buf, "warmup_messages_received_total", "Warmup queue messages received", warmupReceivedTotal.Load())
	writeCounter(&buf, "warmup_messages_completed_total", "Warmup queue messages processed", warmupCompletedTotal.Load())
	writeCounter(&buf, "warmup_messages_failed_total", "Warmup queue messages left for redelivery", warmupFailedTotal.Load())
	writeCounter(&buf, "warmup_messages_dropped_total", "Malformed warmup queue messages dropped", warmupDeletedBadMessage.Load())
	writeLabeledCounter(&buf, "analysis_job_failures_by_kind_total", "Failed jobs by error kind", "kind", snapshotFailures())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

func snapshotFailures() map[string]uint64 {
	failuresMu.Lock()
	defer failuresMu.Unlock()
	out := make(map[string]uint64, len(failuresByKind))
	for k, v := range failuresByKind {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
