// Package stats aggregates load test measurements from many relay clients and
// prints a summary with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Latency series names used by the load test scenarios.
const (
	SeriesConnect   = "connect"   // dial + upgrade
	SeriesJoin      = "join"      // dial until join_success
	SeriesBroadcast = "broadcast" // send until the room echo arrives
	SeriesAssistant = "assistant" // directive until the assistant's answer
)

var seriesOrder = []string{SeriesConnect, SeriesJoin, SeriesBroadcast, SeriesAssistant}

// Distribution summarizes one latency series.
type Distribution struct {
	N   int
	Avg time.Duration
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Collector aggregates metrics from many clients. All methods are
// goroutine-safe.
type Collector struct {
	mu          sync.Mutex
	series      map[string][]time.Duration
	errors      int
	connections int
	rejected    int // nickname_taken, rate_limited, error frames
	startTime   time.Time
	scraper     *Scraper
}

// NewCollector creates a Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		series:    make(map[string][]time.Duration),
		startTime: time.Now(),
	}
}

// SetScraper attaches a metrics scraper whose report is appended to Report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records a successful connection with its connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.series[SeriesConnect] = append(c.series[SeriesConnect], d)
	c.connections++
	c.mu.Unlock()
}

// AddLatency records one sample for a named series.
func (c *Collector) AddLatency(series string, d time.Duration) {
	c.mu.Lock()
	c.series[series] = append(c.series[series], d)
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// AddRejected counts a request the relay refused.
func (c *Collector) AddRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

// ConnectionCount returns the number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Distribution returns the summary of a series; ok is false when it is empty.
func (c *Collector) Distribution(series string) (Distribution, bool) {
	c.mu.Lock()
	samples := append([]time.Duration(nil), c.series[series]...)
	c.mu.Unlock()
	if len(samples) == 0 {
		return Distribution{}, false
	}
	return Summarize(samples), true
}

// Report prints the collected metrics to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	elapsed := time.Since(c.startTime)
	connections, errors, rejected := c.connections, c.errors, c.rejected
	scraper := c.scraper
	c.mu.Unlock()

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", connections)
	fmt.Printf("Errors:       %d\n", errors)
	fmt.Printf("Rejected:     %d\n", rejected)

	if connections > 0 {
		errorRate := float64(errors) / float64(connections) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}

	for _, name := range seriesOrder {
		d, ok := c.Distribution(name)
		if !ok {
			continue
		}
		fmt.Printf("\n--- %s latency ---\n", name)
		fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			d.Avg.Round(time.Microsecond),
			d.P50.Round(time.Microsecond),
			d.P95.Round(time.Microsecond),
			d.P99.Round(time.Microsecond),
			d.Max.Round(time.Microsecond),
			d.N,
		)
	}

	if scraper != nil {
		scraper.Report()
	}

	fmt.Println()
}

// Summarize sorts samples in place and computes their distribution. samples
// must be non-empty.
func Summarize(samples []time.Duration) Distribution {
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	n := len(samples)
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return Distribution{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: samples[n/2],
		P95: samples[rank(n, 0.95)],
		P99: samples[rank(n, 0.99)],
		Max: samples[n-1],
	}
}

// rank is the nearest-rank index of percentile p in n sorted samples.
func rank(n int, p float64) int {
	i := int(math.Ceil(float64(n)*p)) - 1
	if i < 0 {
		return 0
	}
	return i
}
