// Package api is the HTTP control surface: per-user engine start and
// stop, status, configuration, and recovery visibility.
package api

import (
	"net/http"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/gateway"
	"tradecore/internal/recovery"
	"tradecore/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine registry.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Queries   *db.UserQueries
	Registry  *engine.Registry
	Builder   *gateway.Builder
	Recovery  *recovery.Orchestrator
	JWTSecret string

	// Presets offered as starting points for new configurations.
	Presets []config.Preset
}

func NewServer(bus *events.Bus, queries *db.UserQueries, registry *engine.Registry, builder *gateway.Builder, rec *recovery.Orchestrator, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Queries:   queries,
		Registry:  registry,
		Builder:   builder,
		Recovery:  rec,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	// Websocket carries its token as a query parameter; browsers
	// cannot set headers on upgrade requests.
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.JWTSecret))
	{
		bot := api.Group("/bot")
		{
			bot.POST("/start", s.startBot)
			bot.POST("/stop", s.stopBot)
			bot.POST("/force-check", s.forceCheck)
			bot.POST("/close-positions", s.closePositions)
			bot.GET("/status", s.getStatus)
			bot.GET("/config", s.getConfig)
			bot.PUT("/config", s.updateConfig)
			bot.GET("/trades", s.getTrades)
			bot.GET("/balance", s.getBalance)
		}

		api.GET("/presets", s.getPresets)

		rec := api.Group("/recovery")
		{
			rec.GET("/status", s.getRecoveryStatus)
			rec.POST("/force", s.forceRecover)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
