package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/vzahanych/detection-dashboard/internal/config"
	"github.com/vzahanych/detection-dashboard/internal/dashboard"
	"github.com/vzahanych/detection-dashboard/internal/health"
	"github.com/vzahanych/detection-dashboard/internal/logger"
	"github.com/vzahanych/detection-dashboard/internal/metrics"
	"github.com/vzahanych/detection-dashboard/internal/selection"
	"github.com/vzahanych/detection-dashboard/internal/service"
)

//go:embed static/*
var staticFiles embed.FS

// Dashboard is the controller surface the web API drives
type Dashboard interface {
	SelectImage(f selection.File) error
	SelectVideo(f selection.File) error
	Reject(err error) error
	DetectImage(ctx context.Context) error
	DetectVideo(ctx context.Context) error
	Reset(ctx context.Context, confirmer dashboard.Confirmer) (bool, error)
	SetThreshold(value float64) error
	SetThresholdPercent(percent int) error
	SwitchTab(tab dashboard.Tab) error
	StartStream(ctx context.Context) error
	StopStream()
	Snapshot() dashboard.State
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	limits     config.LimitsConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	dashboard  Dashboard
	hub        *Hub
	health     *health.Manager
	metrics    *metrics.Metrics
}

// NewServer creates the web server and its routes
func NewServer(cfg *config.WebConfig, limits config.LimitsConfig, d Dashboard, hub *Hub, hm *health.Manager, m *metrics.Metrics, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		limits:      limits,
		logger:      log,
		router:      router,
		dashboard:   d,
		hub:         hub,
		health:      hm,
		metrics:     m,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	// WriteTimeout stays 0: /stream.mjpg and /ws are long-lived
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop disconnects view clients and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/state", s.handleState)

		api.POST("/image", s.handleSelect(selection.KindImage, "file"))
		api.POST("/video", s.handleSelect(selection.KindVideo, "video"))

		api.POST("/detect/image", s.handleDetectImage)
		api.POST("/detect/video", s.handleDetectVideo)

		api.PUT("/threshold", s.handleThreshold)
		api.POST("/tab/:name", s.handleTab)

		api.POST("/stream/start", s.handleStreamStart)
		api.POST("/stream/stop", s.handleStreamStop)

		api.POST("/reset", s.handleReset)

		if s.health != nil {
			s.health.RegisterRoutes(api)
		}
	}

	s.router.GET("/ws", s.hub.ServeWS)
	s.router.GET("/stream.mjpg", s.handleMJPEG)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	staticFS, err := static.EmbedFolder(staticFiles, "static")
	if err != nil {
		s.LogError("Embedded page unavailable", err)
	} else {
		s.router.Use(static.Serve("/", staticFS))
	}
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}
