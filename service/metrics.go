package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector tracks vote casting, sealing and counting. Counters are
// exported to Prometheus; GetMetrics returns a JSON-friendly summary.
type MetricsCollector struct {
	registry *prometheus.Registry

	votesAccepted prometheus.Counter
	votesRejected *prometheus.CounterVec
	castDuration  prometheus.Histogram
	sealDuration  prometheus.Histogram
	blocksSealed  prometheus.Counter
	chainHeight   prometheus.Gauge
	chainValid    prometheus.Gauge
	queueDepth    prometheus.Gauge

	mu              sync.RWMutex
	votingStartTime time.Time
	votingEndTime   time.Time
	votingCount     int
	rejectedCount   int
	votingTotalTime time.Duration

	sealingCount     int
	sealingTotalTime time.Duration

	countingStartTime      time.Time
	countingEndTime        time.Time
	countingCount          int
	countingProcessingTime time.Duration
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// MetricsResponse provides the metrics for all operations
type MetricsResponse struct {
	Voting   OperationMetrics `json:"voting"`
	Rejected int              `json:"rejected"`
	Sealing  OperationMetrics `json:"sealing"`
	Counting OperationMetrics `json:"counting"`
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		votesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_votes_accepted_total",
			Help: "Votes admitted into the ledger.",
		}),
		votesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_votes_rejected_total",
			Help: "Votes rejected, by reason.",
		}, []string{"reason"}),
		castDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_cast_duration_seconds",
			Help:    "Time to admit and seal one vote.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		sealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_seal_duration_seconds",
			Help:    "Time spent sealing a block.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_blocks_sealed_total",
			Help: "Blocks appended to the chain.",
		}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_chain_blocks",
			Help: "Blocks in the chain, genesis included.",
		}),
		chainValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_chain_valid",
			Help: "1 if the last audit found the chain valid, 0 otherwise.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_vote_queue_depth",
			Help: "Votes waiting in the processing queue.",
		}),
	}

	mc.registry.MustRegister(
		mc.votesAccepted,
		mc.votesRejected,
		mc.castDuration,
		mc.sealDuration,
		mc.blocksSealed,
		mc.chainHeight,
		mc.chainValid,
		mc.queueDepth,
		collectors.NewGoCollector(),
	)
	mc.chainValid.Set(1)

	return mc
}

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// RecordVote records one cast attempt. An empty reason means the vote was accepted.
func (mc *MetricsCollector) RecordVote(duration time.Duration, reason string) {
	mc.castDuration.Observe(duration.Seconds())
	if reason == "" {
		mc.votesAccepted.Inc()
	} else {
		mc.votesRejected.WithLabelValues(reason).Inc()
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	if mc.votingCount == 0 && mc.rejectedCount == 0 {
		mc.votingStartTime = now.Add(-duration)
	}
	mc.votingEndTime = now
	if reason == "" {
		mc.votingCount++
	} else {
		mc.rejectedCount++
	}
	mc.votingTotalTime += duration
}

// RecordSeal records a sealed block and the resulting chain length.
func (mc *MetricsCollector) RecordSeal(duration time.Duration, chainBlocks int) {
	mc.sealDuration.Observe(duration.Seconds())
	mc.blocksSealed.Inc()
	mc.chainHeight.Set(float64(chainBlocks))

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sealingCount++
	mc.sealingTotalTime += duration
}

// RecordCountingStart marks the start of a counting operation
func (mc *MetricsCollector) RecordCountingStart() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.countingStartTime = time.Now()
}

// RecordCountingEnd marks the end of a counting operation
func (mc *MetricsCollector) RecordCountingEnd() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.countingEndTime = time.Now()
	mc.countingCount++
	mc.countingProcessingTime += mc.countingEndTime.Sub(mc.countingStartTime)
}

func (mc *MetricsCollector) SetChainHeight(blocks int) {
	mc.chainHeight.Set(float64(blocks))
}

func (mc *MetricsCollector) SetChainValid(valid bool) {
	if valid {
		mc.chainValid.Set(1)
	} else {
		mc.chainValid.Set(0)
	}
}

func (mc *MetricsCollector) SetQueueDepth(n int) {
	mc.queueDepth.Set(float64(n))
}

// GetMetrics returns current metrics for all operations
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsResponse{
		Voting: OperationMetrics{
			StartTime:      mc.votingStartTime,
			EndTime:        mc.votingEndTime,
			Count:          mc.votingCount,
			ProcessingTime: mc.votingTotalTime.Milliseconds(),
		},
		Rejected: mc.rejectedCount,
		Sealing: OperationMetrics{
			Count:          mc.sealingCount,
			ProcessingTime: mc.sealingTotalTime.Milliseconds(),
		},
		Counting: OperationMetrics{
			StartTime:      mc.countingStartTime,
			EndTime:        mc.countingEndTime,
			Count:          mc.countingCount,
			ProcessingTime: mc.countingProcessingTime.Milliseconds(),
		},
	}
}

// Reset clears the JSON summary. Prometheus counters are monotonic and
// are left alone.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.votingStartTime = time.Time{}
	mc.votingEndTime = time.Time{}
	mc.votingCount = 0
	mc.rejectedCount = 0
	mc.votingTotalTime = 0

	mc.sealingCount = 0
	mc.sealingTotalTime = 0

	mc.countingStartTime = time.Time{}
	mc.countingEndTime = time.Time{}
	mc.countingCount = 0
	mc.countingProcessingTime = 0
}
