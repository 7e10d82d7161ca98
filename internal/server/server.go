// Package server exposes the workflow over HTTP: a websocket stream per
// conversation thread plus a query endpoint that starts runs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/domain"
	"github.com/phancao/Project-Management-Agent-sub011/internal/config"
	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

// WorkflowRunner starts one run for a thread, publishing progress events.
type WorkflowRunner interface {
	Run(ctx context.Context, threadID, query string, publisher domain.EventPublisher) (*domain.RunResult, error)
}

// Server is the HTTP/websocket surface.
type Server struct {
	cfg      config.ServerConfig
	registry *stream.Registry
	workflow WorkflowRunner
	logger   logging.Logger
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, registry *stream.Registry, workflow WorkflowRunner, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		workflow: workflow,
		logger:   logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws/:thread_id", s.handleStream)
	engine.POST("/api/threads/:thread_id/query", s.handleQuery)

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks serving HTTP until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "threads": s.registry.Len()})
}

type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

// handleQuery starts one workflow run for the thread. The run publishes
// into the thread's queue; a connected websocket observes progress.
func (s *Server) handleQuery(c *gin.Context) {
	threadID := c.Param("thread_id")
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	thread, created := s.registry.Acquire(threadID)
	if created {
		s.logger.Debug("thread %s created by query", threadID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	thread.BindWorkflow(cancel)

	go func() {
		defer cancel()
		result, err := s.workflow.Run(runCtx, threadID, req.Query, thread.Queue)
		if err != nil {
			s.logger.Error("run for thread %s failed: %v", threadID, err)
			return
		}
		s.logger.Info("run for thread %s stopped: %s", threadID, result.StopReason)
	}()

	c.JSON(http.StatusAccepted, gin.H{"thread_id": threadID, "status": "started"})
}

// wsTransport adapts one websocket connection to the delivery loop. Only
// the single delivery loop writes, so no write lock is needed.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, frame stream.Frame) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	}
	return t.conn.WriteJSON(frame)
}

// handleStream binds a websocket to the thread's queue. Disconnect tears
// the thread down, which cancels the workflow and closes the queue.
func (s *Server) handleStream(c *gin.Context) {
	threadID := c.Param("thread_id")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed for thread %s: %v", threadID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	thread, _ := s.registry.Acquire(threadID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only detect disconnect; clients drive runs over the query
	// endpoint.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	loop := stream.NewDeliveryLoop(thread, &wsTransport{conn: conn}, s.logger)
	if err := loop.Run(ctx); err != nil {
		s.logger.Debug("delivery for thread %s ended: %v", threadID, err)
	}
	s.registry.Close(threadID)
}
