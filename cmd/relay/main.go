package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campus/chat-relay/internal/assistant"
	"github.com/campus/chat-relay/internal/broadcast"
	"github.com/campus/chat-relay/internal/chat"
	"github.com/campus/chat-relay/internal/config"
	"github.com/campus/chat-relay/internal/messaging"
	"github.com/campus/chat-relay/internal/metrics"
	"github.com/campus/chat-relay/internal/presence"
	"github.com/campus/chat-relay/internal/protocol"
	"github.com/campus/chat-relay/internal/ratelimit"
	"github.com/campus/chat-relay/internal/room"
	"github.com/campus/chat-relay/internal/session"
	"github.com/campus/chat-relay/internal/web"
	"github.com/campus/chat-relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	servers, err := config.EnsureServers(cfg.ServersFile)
	if err != nil {
		log.Fatalf("failed to prepare servers file %s: %v", cfg.ServersFile, err)
	}

	wsConfig := ws.DefaultServerConfig()
	wsConfig.WorkerPoolSize = cfg.WorkerPoolSize
	wsConfig.MaxConnections = cfg.MaxConnections
	wsConfig.ReadTimeout = cfg.ReadTimeout
	wsConfig.WriteTimeout = cfg.WriteTimeout
	wsConfig.OutboxSize = cfg.OutboxSize
	wsConfig.Heartbeat = ws.HeartbeatConfig{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
	}

	log.Printf("Chat relay starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  worker_pool:     %d", wsConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", wsConfig.MaxConnections)
	log.Printf("  outbox_size:     %d", wsConfig.OutboxSize)
	log.Printf("  assistant:       %s", cfg.AssistantName)
	log.Printf("  servers_file:    %s (%d entries)", cfg.ServersFile, len(servers.Servers))

	// --- Redis (optional) ---
	var (
		sessionStore *session.Store
		limiter      *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		sessionStore, err = session.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			log.Printf("redis unavailable at %s, presence mirror and rate limits disabled: %v", cfg.RedisAddr, err)
		} else {
			limiter = ratelimit.NewLimiter(sessionStore.Client())
			log.Printf("  redis_addr:      %s", cfg.RedisAddr)
		}
	}

	// --- NATS (optional) ---
	var (
		natsClient *messaging.NATSClient
		tap        broadcast.Tap
	)
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Printf("nats unavailable at %s, room tap disabled: %v", cfg.NATSURL, err)
		} else {
			tap = natsClient
			log.Printf("  nats_url:        %s", cfg.NATSURL)
		}
	}

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(wsConfig, dispatcher.Dispatch)

	rooms := room.NewRegistry()
	sessions := session.NewRegistry()
	out := broadcast.New(server, tap)

	var presenceOpts []presence.Option
	if sessionStore != nil {
		presenceOpts = append(presenceOpts, presence.WithMirror(sessionStore))
	}
	coordinator := presence.New(rooms, sessions, out, server, presenceOpts...)

	router := chat.NewRouter(sessions, out)
	engine := assistant.NewEngine(assistant.WithName(cfg.AssistantName))
	chat.NewDispatcher(router, engine)

	// -----------------------------------------------------------------------
	// join — enter a room under a nickname
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := coordinator.Join(ctx, conn.ID, joinMsg.Username, joinMsg.Room); err != nil {
			log.Printf("join from session=%s room=%q rejected: %v", conn.ID, joinMsg.Room, err)
		}
	})

	// -----------------------------------------------------------------------
	// send_message — relay a line to the sender's room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if limiter != nil {
			if allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage); !allowed {
				retry, _ := limiter.RetryAfter(ctx, conn.ID, ratelimit.RuleMessage)
				metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
				if err := out.Unicast(conn.ID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
					RetryAfter: int(retry / time.Second),
				}); err != nil {
					log.Printf("rate_limited to session=%s: %v", conn.ID, err)
				}
				return
			}
		}

		if err := chat.ValidateMessage(sendMsg.Message, cfg.MaxMessageBytes); err != nil {
			metrics.MessagesTotal.WithLabelValues("invalid").Inc()
			ws.SendError(conn, "invalid_message", err.Error())
			return
		}

		router.Route(ctx, conn.ID, sendMsg.Message, chat.FromCommand(sendMsg.Command))
	})

	server.SetOnDisconnect(func(connID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		coordinator.Leave(ctx, connID)
	})

	if err := server.Start(); err != nil {
		log.Fatalf("ws server error: %v", err)
	}

	webDeps := web.Deps{
		ServersFile: cfg.ServersFile,
		Upgrade:     server.HandleUpgrade,
		Stats: func() web.Stats {
			return web.Stats{
				Connections: server.Connections().Count(),
				Sessions:    sessions.Count(),
				Rooms:       len(rooms.Rooms()),
				Uptime:      server.Uptime(),
			}
		},
	}
	if limiter != nil {
		webDeps.Limiter = limiter
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           web.NewRouter(webDeps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("HTTP server listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := server.Shutdown(); err != nil {
		log.Printf("ws shutdown error: %v", err)
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if sessionStore != nil {
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
	}
	log.Printf("relay stopped")
}
