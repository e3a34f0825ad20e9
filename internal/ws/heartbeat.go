package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // grace period after a missed interval (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically pings every
// connection and evicts those that have gone silent for longer than
// Interval + Timeout. It returns immediately; the goroutine exits when the
// server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, time.Now())
			}
		}
	}()
}

// checkConnections removes connections with no activity within
// Interval + Timeout and sends a protocol-level ping to the rest. Browsers
// answer pings automatically, and the pong counts as activity.
func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			log.Printf("ws: heartbeat timeout id=%s last_activity=%s ago",
				c.ID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed id=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}
