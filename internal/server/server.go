package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gamedeck/panel/backend/internal/config"
	"github.com/gamedeck/panel/backend/internal/monitoring"
	"github.com/gamedeck/panel/backend/internal/shared/id"
	"github.com/gamedeck/panel/backend/internal/store"
	"github.com/gamedeck/panel/backend/internal/terminal"
	"github.com/gamedeck/panel/backend/internal/ws"
)

// Server owns the HTTP surface and the session supervisor behind it.
type Server struct {
	log     *zap.Logger
	http    *http.Server
	manager *terminal.Manager
	store   *store.Store
	metrics *monitoring.Metrics
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	recordStore, err := store.Open(cfg.Store.DataDir, log.Named("store"))
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	directory := ws.NewDirectory()

	manager := terminal.NewManager(terminal.Options{
		Logger:         log.Named("terminal"),
		Store:          recordStore,
		Transports:     directory,
		Metrics:        metrics,
		Shell:          cfg.Session.Shell,
		ReaperInterval: cfg.Session.ReaperInterval,
		DisconnectTTL:  cfg.Session.DisconnectTTL,
		IdleTTL:        cfg.Session.IdleTTL,
	})

	wsHandler := ws.NewHandler(manager, directory, log.Named("ws"), metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(requestID(id.NewGenerator()))
	router.Use(accessLog(log.Named("http")))
	router.Use(monitoring.Middleware(metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", monitoring.Handler())

	router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": manager.ListActive()})
	})
	router.GET("/sessions/persisted", func(c *gin.Context) {
		recs, err := manager.ListPersisted()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": recs})
	})

	router.GET("/ws", wsHandler.HandleConnection)

	return &Server{
		log: log,
		http: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		manager: manager,
		store:   recordStore,
		metrics: metrics,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully: in-flight
// HTTP requests get a short drain window and every live session is closed
// through the termination escalator.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}

	s.manager.Shutdown()
	s.store.Close()
	s.metrics.Close()
	return nil
}
