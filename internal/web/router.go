// Package web serves the relay's HTTP surface: the login and chat pages, the
// server discovery list, the WebSocket upgrade endpoint, health and metrics.
package web

import (
	"context"
	"embed"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/campus/chat-relay/internal/config"
	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/ratelimit"
)

//go:embed pages/*.html
var pages embed.FS

// ConnectLimiter throttles WebSocket upgrades per client address.
type ConnectLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Stats is the snapshot reported by /health.
type Stats struct {
	Connections int
	Sessions    int
	Rooms       int
	Uptime      time.Duration
}

// Deps are the collaborators the router needs. Limiter and Stats may be nil.
type Deps struct {
	ServersFile string
	Upgrade     http.HandlerFunc
	Limiter     ConnectLimiter
	Stats       func() Stats
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
	Rooms       int    `json:"rooms"`
	Uptime      string `json:"uptime"`
}

// NewRouter wires the HTTP routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", servePage("pages/login.html"))
	r.Get("/chat", servePage("pages/chat.html"))

	r.Get("/api/servers", func(w http.ResponseWriter, r *http.Request) {
		list, err := config.LoadServers(deps.ServersFile)
		if err != nil {
			log.Printf("[web] failed to load servers file=%s: %v", deps.ServersFile, err)
			respondError(w, http.StatusInternalServerError, "failed to load server list")
			return
		}
		respondJSON(w, http.StatusOK, list)
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if deps.Upgrade == nil {
			respondError(w, http.StatusServiceUnavailable, "relay unavailable")
			return
		}
		if deps.Limiter != nil {
			ip := clientIP(r)
			// Allow fails open, so only a definite rejection blocks.
			if ok, _ := deps.Limiter.Allow(r.Context(), ip, ratelimit.RuleConnect); !ok {
				log.Printf("[web] upgrade rate limited ip=%s", ip)
				respondError(w, http.StatusTooManyRequests, "too many connection attempts")
				return
			}
		}
		deps.Upgrade(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Uptime: "0s"}
		if deps.Stats != nil {
			s := deps.Stats()
			resp.Connections = s.Connections
			resp.Sessions = s.Sessions
			resp.Rooms = s.Rooms
			resp.Uptime = s.Uptime.Round(time.Second).String()
		}
		respondJSON(w, http.StatusOK, resp)
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}

func servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := pages.ReadFile(name)
		if err != nil {
			respondError(w, http.StatusNotFound, "page not found")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}
}

// clientIP strips the port from the request address. RealIP may already have
// replaced it with a bare forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
