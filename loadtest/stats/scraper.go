package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// metricSnapshot holds the relay metrics tracked during a run.
type metricSnapshot struct {
	timestamp     time.Time
	connections   float64
	sessions      float64
	messagesTotal float64
	framesDropped float64
	assistant     float64
	// histogram _sum and _count for computing averages
	routeSum   float64
	routeCount float64
}

// Scraper periodically fetches the relay's /metrics endpoint and records
// snapshots for the final report.
type Scraper struct {
	metricsURL string
	interval   time.Duration

	mu        sync.Mutex
	snapshots []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	client *http.Client
}

// NewScraper creates a Scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		metricsURL: metricsURL,
		interval:   interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
}

// Start takes a snapshot immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop stops the background scraper and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) scrapeOnce() {
	resp, err := s.client.Get(s.metricsURL)
	if err != nil {
		// The relay may not be up yet.
		return
	}
	defer resp.Body.Close()

	snap, err := parseSnapshot(resp.Body)
	if err != nil {
		return
	}
	snap.timestamp = time.Now()

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()
}

// parseSnapshot reads a Prometheus text exposition body.
func parseSnapshot(r io.Reader) (metricSnapshot, error) {
	var snap metricSnapshot

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}

		switch name {
		case "relay_connections":
			snap.connections = value
		case "relay_sessions":
			snap.sessions = value
		case "relay_messages_total":
			// One line per kind label; the total is their sum.
			snap.messagesTotal += value
		case "relay_frames_dropped_total":
			snap.framesDropped = value
		case "relay_assistant_replies_total":
			snap.assistant += value
		case "relay_route_latency_seconds_sum":
			snap.routeSum = value
		case "relay_route_latency_seconds_count":
			snap.routeCount = value
		}
	}

	return snap, scanner.Err()
}

// parseMetricLine splits `name{labels} value` or `name value` into the bare
// metric name and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	raw := line
	if idx := strings.IndexByte(raw, '{'); idx != -1 {
		name = raw[:idx]
		closing := strings.IndexByte(raw[idx:], '}')
		if closing == -1 {
			return "", 0, false
		}
		raw = name + raw[idx+closing+1:]
	}

	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", 0, false
	}

	if name == "" {
		name = fields[0]
	}

	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return "", 0, false
	}

	return name, v, true
}

// Report prints initial, final, delta and peak values for each tracked metric.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := make([]metricSnapshot, len(s.snapshots))
	copy(snaps, s.snapshots)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Relay Metrics (no data collected) ---")
		return
	}

	first := snaps[0]
	last := snaps[len(snaps)-1]

	fmt.Println("\n--- Relay Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(snaps), last.timestamp.Sub(first.timestamp).Round(time.Second))

	rows := []struct {
		label   string
		extract func(metricSnapshot) float64
	}{
		{"Connections", func(s metricSnapshot) float64 { return s.connections }},
		{"Sessions", func(s metricSnapshot) float64 { return s.sessions }},
		{"Messages Total", func(s metricSnapshot) float64 { return s.messagesTotal }},
		{"Frames Dropped", func(s metricSnapshot) float64 { return s.framesDropped }},
		{"Assistant", func(s metricSnapshot) float64 { return s.assistant }},
	}

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "------", "-------", "-----", "-----", "----")
	for _, r := range rows {
		initial, final := r.extract(first), r.extract(last)
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			r.label, initial, final, final-initial, peakValue(snaps, r.extract))
	}

	fmt.Println()
	deltaSum := last.routeSum - first.routeSum
	deltaCount := last.routeCount - first.routeCount
	if deltaCount > 0 {
		fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", "Route Latency", deltaSum/deltaCount, deltaCount)
	} else {
		fmt.Printf("  %-16s avg: N/A  (no observations)\n", "Route Latency")
	}
}

func peakValue(snaps []metricSnapshot, extract func(metricSnapshot) float64) float64 {
	peak := math.Inf(-1)
	for _, s := range snaps {
		if v := extract(s); v > peak {
			peak = v
		}
	}
	return peak
}
