package metrics

import (
	"time"

	"github.com/scanord/engine/pkg/types"
)

// ChunkCounter is the minimal view of the chunk store the collector needs:
// a count of chunks per status.
type ChunkCounter interface {
	CountByStatus() map[types.ChunkStatus]int
}

// CoverageSnapshotter is the minimal view of the coverage tracker the
// collector needs.
type CoverageSnapshotter interface {
	Coverage() types.Coverage
	QuarantinedCount() int
}

// SubscriberCounter is the minimal view of the event broker the collector
// needs.
type SubscriberCounter interface {
	SubscriberCount() int
}

// Collector polls the scheduler's owned components on a fixed interval and
// publishes their state as Prometheus gauges.
type Collector struct {
	chunks    ChunkCounter
	coverage  CoverageSnapshotter
	broker    SubscriberCounter
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a collector polling every interval (15s if <= 0).
func NewCollector(chunks ChunkCounter, coverage CoverageSnapshotter, broker SubscriberCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		chunks:   chunks,
		coverage: coverage,
		broker:   broker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectChunkMetrics()
	c.collectCoverageMetrics()
	c.collectBrokerMetrics()
}

func (c *Collector) collectChunkMetrics() {
	counts := c.chunks.CountByStatus()
	for _, status := range []types.ChunkStatus{
		types.ChunkQueued, types.ChunkRunning, types.ChunkCompleted,
		types.ChunkFailed, types.ChunkKilled,
	} {
		ChunksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectCoverageMetrics() {
	cov := c.coverage.Coverage()
	CoverageAddressesTotal.WithLabelValues("pending").Set(float64(cov.Pending))
	CoverageAddressesTotal.WithLabelValues("scanned_ok").Set(float64(cov.Completed))
	CoverageAddressesTotal.WithLabelValues("failed").Set(float64(cov.Failed))
	CoverageAddressesTotal.WithLabelValues("quarantined").Set(float64(c.coverage.QuarantinedCount()))
}

func (c *Collector) collectBrokerMetrics() {
	EventSubscribersTotal.Set(float64(c.broker.SubscriberCount()))
}
