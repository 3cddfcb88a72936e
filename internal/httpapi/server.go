package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"orangeclock/internal/audio"
	"orangeclock/internal/control"
	"orangeclock/internal/scheduler"
	"orangeclock/pkg/logx"
)

// Control is the slice of the application service the handlers need.
type Control interface {
	Create(ctx context.Context, req control.Request) (control.View, error)
	Edit(ctx context.Context, id int64, req control.Request) (control.View, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (control.View, error)
	List(ctx context.Context) ([]control.View, error)
	Upcoming(ctx context.Context, horizon time.Duration) ([]control.UpcomingView, error)
}

// Status is called by the status endpoint; nil disables the scheduler block.
type Status func() scheduler.Snapshot

// Config controls the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins []string // empty allows all origins

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg    Config
	ctl    Control
	clips  *audio.Repo
	status Status
	log    logx.Logger

	router *gin.Engine
	srv    *http.Server
}

func New(cfg Config, ctl Control, clips *audio.Repo, status Status, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		ctl:    ctl,
		clips:  clips,
		status: status,
		log:    log,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	corsConfig := cors.DefaultConfig()
	if len(s.cfg.CORSOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	s.router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orangeclock"})
	})

	api := s.router.Group("/api")
	{
		api.POST("/alarms", s.createAlarm)
		api.GET("/alarms", s.listAlarms)
		api.GET("/alarms/upcoming", s.upcomingAlarms)
		api.GET("/alarms/:id", s.getAlarm)
		api.PUT("/alarms/:id", s.editAlarm)
		api.DELETE("/alarms/:id", s.deleteAlarm)

		api.GET("/audio", s.listAudio)
		api.POST("/audio", s.uploadAudio)
		api.GET("/audio/:name", s.streamAudio)
		api.PUT("/audio/:name", s.renameAudio)
		api.DELETE("/audio/:name", s.deleteAudio)

		api.GET("/status", s.getStatus)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
