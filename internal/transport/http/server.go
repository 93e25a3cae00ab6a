package http

import (
	"context"
	"fmt"
	"net"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/service/chat"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Hub           *core.Hub
	Authenticator core.Authenticator
	AuthService   *auth.Service
	ChatService   *chat.Service
	Store         store.Store
}

// Server is the HTTP server plus the websocket connections it has hijacked.
type Server struct {
	*stdhttp.Server

	ws         *WSHandler
	cancelBase context.CancelFunc
}

// NewServer builds an HTTP server with the websocket endpoint and the REST API.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := router.Group("/api")
	{
		authHandlers := NewAPIHandlers(deps.AuthService, cfg, logger)
		api.POST("/auth/register", authHandlers.Register)
		api.POST("/auth/login", authHandlers.Login)
		api.POST("/auth/logout", authHandlers.Logout)

		protected := api.Group("")
		protected.Use(AuthMiddleware(deps.Authenticator, logger))

		userHandlers := NewUserHandlers(deps.Store, deps.Hub.Presence(), logger)
		protected.GET("/users/me", userHandlers.Me)
		protected.GET("/users/online", userHandlers.Online)

		chatHandlers := NewChatHandlers(deps.ChatService, logger)
		protected.GET("/chats", chatHandlers.ListConversations)
		protected.POST("/chats", chatHandlers.CreateConversation)
		protected.GET("/chats/:id/messages", chatHandlers.ListMessages)
		protected.POST("/chats/:id/messages", chatHandlers.SendMessage)
	}

	// The websocket endpoint stays off gin: its ResponseWriter refuses to
	// hijack once the upgrade status has been written.
	ws := &WSHandler{hub: deps.Hub, cfg: cfg, log: logger}
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/", router)

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		Server: &stdhttp.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			BaseContext:       func(_ net.Listener) context.Context { return base },
		},
		ws:         ws,
		cancelBase: cancel,
	}
}

// Shutdown stops accepting requests, waits for in-flight HTTP requests, then
// closes every websocket connection and waits for their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.cancelBase()
	if waitErr := s.ws.wait(ctx); waitErr != nil {
		return fmt.Errorf("wait for websocket connections: %w", waitErr)
	}
	return err
}
