package metrics

import (
	"context"
	"time"

	"github.com/corvusec/magpie/pkg/types"
)

// StatsSource provides the database counts the collector polls. The
// repository satisfies it.
type StatsSource interface {
	JobCounts(ctx context.Context) (map[types.JobStatus]int64, error)
	IndicatorCounts(ctx context.Context) (map[types.IndicatorType]int64, error)
	ProcessedCount(ctx context.Context) (int64, error)
}

// Collector periodically refreshes the database snapshot gauges
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectJobMetrics(ctx)
	c.collectIndicatorMetrics(ctx)
	c.collectFileMetrics(ctx)
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	counts, err := c.source.JobCounts(ctx)
	if err != nil {
		return
	}

	// Set every status explicitly so emptied states drop back to zero.
	statuses := []types.JobStatus{
		types.JobQueued, types.JobProcessing, types.JobCompleted, types.JobFailed,
	}
	for _, status := range statuses {
		DBJobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectIndicatorMetrics(ctx context.Context) {
	counts, err := c.source.IndicatorCounts(ctx)
	if err != nil {
		return
	}

	kinds := []types.IndicatorType{
		types.IndicatorDomain, types.IndicatorEmail, types.IndicatorIPv4,
	}
	for _, kind := range kinds {
		DBIndicatorsTotal.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}

func (c *Collector) collectFileMetrics(ctx context.Context) {
	n, err := c.source.ProcessedCount(ctx)
	if err != nil {
		return
	}

	ProcessedFilesTotal.Set(float64(n))
}
