package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/queue"
	"github.com/Sireeshreddy01/structa-ai/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const healthTimeout = 3 * time.Second

// GET /health
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.config.Queue.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if s.config.Store != nil {
		if err := s.config.Store.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": s.config.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"checks":  checks,
	})
}

// GET /stats
func (s *Server) stats(c *gin.Context) {
	ctx := c.Request.Context()

	queueStats, err := s.config.Queue.GetStats(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"queue": queueStats}
	if s.config.Store != nil {
		storageStats, err := s.config.Store.GetStats(ctx)
		if err != nil {
			s.logger.Warn("Failed to read storage stats", "error", err)
		} else {
			resp["storage"] = storageStats
		}
	}
	c.JSON(http.StatusOK, resp)
}

// POST /jobs
func (s *Server) submitJob(c *gin.Context) {
	var payload queue.JobPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if len(payload.FileBuffer) == 0 && payload.FileURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileBuffer or fileUrl is required"})
		return
	}
	if payload.FileURL != "" {
		if err := s.config.URLPolicy.Check(payload.FileURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileUrl rejected: " + err.Error()})
			return
		}
	}
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	if payload.UserID == "" {
		payload.UserID = "anonymous"
	}
	if payload.FileSize == 0 {
		payload.FileSize = int64(len(payload.FileBuffer))
	}

	id, err := s.config.Queue.Enqueue(c.Request.Context(), &payload)
	if err != nil {
		s.logger.Error("Failed to enqueue job", "job_id", payload.JobID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": payload.JobID, "taskId": id, "status": "queued"})
}

// GET /jobs/:id
func (s *Server) getJob(c *gin.Context) {
	if s.config.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job storage not configured"})
		return
	}

	job, err := s.config.Store.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GET /documents/:id
func (s *Server) getDocument(c *gin.Context) {
	if s.config.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document storage not configured"})
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	row, err := s.config.Store.GetStructuredDocument(c.Request.Context(), id)
	if err != nil {
		s.storageError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           row.ID,
		"jobId":        row.JobID,
		"filename":     row.Filename,
		"confidence":   row.Confidence,
		"layoutSource": row.LayoutSource,
		"archiveUri":   row.ArchiveURI,
		"createdAt":    row.CreatedAt,
		"document":     row.Document,
	})
}

func (s *Server) storageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("Storage read failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
}
