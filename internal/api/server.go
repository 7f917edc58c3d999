/**
 * HTTP API for the structa worker
 *
 * Health and queue statistics for orchestration, job submission, and
 * read access to job status and structured documents.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/queue"
	"github.com/Sireeshreddy01/structa-ai/internal/storage"
	"github.com/gin-gonic/gin"
)

// JobQueue is the queue backend the API submits to and reports on
type JobQueue interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (string, error)
	GetStats(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
}

// DocumentReader reads persisted jobs and documents
type DocumentReader interface {
	GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error)
	GetStructuredDocument(ctx context.Context, id string) (*storage.DocumentRow, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
	Ping(ctx context.Context) error
}

// DefaultMaxBodyBytes fits a 50MB image as base64 plus the JSON envelope
const DefaultMaxBodyBytes int64 = 72 << 20

// ServerConfig holds API configuration
type ServerConfig struct {
	Port    int
	Mode    string // gin.DebugMode, gin.ReleaseMode or gin.TestMode
	Version string
	Queue   JobQueue
	Store   DocumentReader // optional

	// MaxBodyBytes caps POST /jobs bodies; 0 uses DefaultMaxBodyBytes
	MaxBodyBytes int64
	// URLPolicy screens submitted fileUrl values; nil uses the zero policy
	URLPolicy *clients.URLPolicy
}

// Server serves the worker's HTTP API
type Server struct {
	config  *ServerConfig
	router  *gin.Engine
	httpSrv *http.Server
	logger  *logging.Logger
	started time.Time
}

// NewServer creates the API server and registers its routes
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.URLPolicy == nil {
		cfg.URLPolicy = &clients.URLPolicy{}
	}

	s := &Server{
		config:  cfg,
		router:  gin.New(),
		logger:  logging.NewLogger("API"),
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/stats", s.stats)

	jobs := s.router.Group("/jobs")
	jobs.Use(limitBody(s.config.MaxBodyBytes))
	{
		jobs.POST("", s.submitJob)
		jobs.GET("/:id", s.getJob)
	}

	s.router.GET("/documents/:id", s.getDocument)
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background; errors other than a clean shutdown are logged
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP API listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP API stopped", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// limitBody makes reads past n bytes fail with *http.MaxBytesError
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", n)})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
