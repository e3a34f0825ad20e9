package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/loadtest/client"
	"github.com/campus/chat-relay/loadtest/stats"
)

// probePrefix marks load test lines so receivers can recover the send time.
const probePrefix = "lt:"

func userName(id int) string { return fmt.Sprintf("lt-%05d", id) }

func roomName(id int) string { return fmt.Sprintf("loadtest-%03d", id) }

// probeText builds a line carrying its send time.
func probeText(seq int, at time.Time) string {
	return probePrefix + strconv.Itoa(seq) + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

// probeSentAt extracts the send time from a probe line.
func probeSentAt(text string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(text, probePrefix)
	if !ok {
		return time.Time{}, false
	}
	_, nanos, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// roomUser is one simulated member with its in-flight assistant question.
type roomUser struct {
	c        *client.Client
	asked    atomic.Int64 // unix nanos of the pending directive, 0 if none
	received atomic.Int64
}

// runRooms spreads users over rooms, has each send a line every interval,
// and measures how long the room echo takes to come back. Every Nth line is
// an assistant directive whose answer latency is measured separately.
func runRooms(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:5000/ws", "WebSocket server URL")
	users := fs.Int("users", 200, "Number of simulated users")
	rooms := fs.Int("rooms", 20, "Number of rooms")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 30*time.Second, "How long users keep chatting")
	msgInterval := fs.Duration("msg-interval", 2500*time.Millisecond, "Interval between lines per user (the relay allows 5 per 10s)")
	assistantEvery := fs.Int("assistant-every", 10, "Every Nth line is an assistant directive (0 disables)")
	assistantName := fs.String("assistant-name", "川小农", "Assistant name to address")
	question := fs.String("question", "四川农业大学校训", "Directive content sent to the assistant")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:5000/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)
	if *rooms <= 0 {
		*rooms = 1
	}

	fmt.Printf("Rooms test: %d users over %d rooms to %s (ramp=%s, duration=%s, interval=%s, assistant-every=%d)\n",
		*users, *rooms, *url, *rampUp, *duration, *msgInterval, *assistantEvery)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	// -----------------------------------------------------------------------
	// Phase 1: connect and join
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect and join ---")

	var mu sync.Mutex
	members := make([]*roomUser, 0, *users)

	interval := *rampUp / time.Duration(*users)
	if interval <= 0 {
		interval = time.Millisecond
	}
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup

	rampTicker := time.NewTicker(interval)
connectLoop:
	for id := 0; id < *users; id++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			break connectLoop
		case <-rampTicker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, *url, userName(id), roomName(id%*rooms))
			if err != nil {
				collector.AddError()
				return
			}
			u := &roomUser{c: c}
			watch(u, *assistantName, collector)

			if err := c.WaitForJoin(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}
			m := c.GetMetrics()
			collector.AddConnect(m.ConnectLatency)
			collector.AddLatency(stats.SeriesJoin, m.JoinLatency)

			mu.Lock()
			members = append(members, u)
			mu.Unlock()
		}()
	}
	rampTicker.Stop()
	wg.Wait()

	fmt.Printf("Joined: %d/%d users (%d errors)\n", collector.ConnectionCount(), *users, collector.ErrorCount())

	// -----------------------------------------------------------------------
	// Phase 2: chat
	// -----------------------------------------------------------------------
	if ctx.Err() == nil {
		fmt.Printf("\n--- Phase 2: Chat for %s ---\n", *duration)

		chatCtx, cancel := context.WithTimeout(ctx, *duration)
		mu.Lock()
		active := append([]*roomUser(nil), members...)
		mu.Unlock()

		for i, u := range active {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Stagger start so rooms are not hit in lockstep.
				offset := *msgInterval * time.Duration(i%10) / 10
				select {
				case <-chatCtx.Done():
					return
				case <-time.After(offset):
				}
				chat(chatCtx, u, *msgInterval, *assistantEvery, *assistantName, *question, collector)
			}()
		}
		wg.Wait()
		cancel()
	}

	// -----------------------------------------------------------------------
	// Cleanup
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	var received int64
	for _, u := range members {
		received += u.received.Load()
		u.c.Close()
	}
	fmt.Printf("Closed %d connections, %d lines received in total.\n", len(members), received)
	mu.Unlock()

	scraper.Stop()
	collector.Report()
}

// watch registers the handlers that turn server frames into measurements.
func watch(u *roomUser, assistantName string, collector *stats.Collector) {
	u.c.On(protocol.TypeNewMessage, func(raw json.RawMessage) {
		var msg protocol.NewMessageMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		u.received.Add(1)

		if msg.Username == u.c.Username() {
			if sentAt, ok := probeSentAt(msg.Message); ok {
				collector.AddLatency(stats.SeriesBroadcast, time.Since(sentAt))
			}
			return
		}
		if msg.Username == assistantName && msg.Command != nil {
			// First assistant line after our question; another member's
			// question in the same room can answer it first.
			if asked := u.asked.Swap(0); asked != 0 {
				collector.AddLatency(stats.SeriesAssistant, time.Since(time.Unix(0, asked)))
			}
		}
	})

	reject := func(json.RawMessage) { collector.AddRejected() }
	u.c.On(protocol.TypeNicknameTaken, reject)
	u.c.On(protocol.TypeRateLimited, reject)
	u.c.On(protocol.TypeError, reject)
}

// chat sends one line per interval until ctx is done.
func chat(ctx context.Context, u *roomUser, interval time.Duration, assistantEvery int, assistantName, question string, collector *stats.Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; ; seq++ {
		var err error
		if assistantEvery > 0 && seq%assistantEvery == 0 {
			u.asked.CompareAndSwap(0, time.Now().UnixNano())
			err = u.c.SendText("@" + assistantName + " " + question)
		} else {
			err = u.c.SendText(probeText(seq, time.Now()))
		}
		if err != nil {
			collector.AddError()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
