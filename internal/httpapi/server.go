package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

const (
	signatureHeader = "X-Ledger-Signature"
	maxWebhookBody  = 1 << 20
)

// WebhookHandler verifies and schedules push notifications
type WebhookHandler interface {
	Handle(raw []byte, signature string) (service.WebhookAck, error)
}

// SyncAPI is the trigger boundary
type SyncAPI interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (string, error)
	Cancel(ctx context.Context, jobID string) error
	Progress(ctx context.Context, jobID string) (service.SyncProgress, error)
}

type Server struct {
	webhooks WebhookHandler
	syncs    SyncAPI
	health   func(ctx context.Context) error
}

func New(webhooks WebhookHandler, syncs SyncAPI, health func(ctx context.Context) error) *Server {
	return &Server{
		webhooks: webhooks,
		syncs:    syncs,
		health:   health,
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.healthz)
	r.POST("/webhooks/ledger", s.webhook)

	v1 := r.Group("/v1")
	v1.POST("/sync", s.triggerSync)
	v1.GET("/sync/:jobId", s.syncProgress)
	v1.POST("/sync/:jobId/cancel", s.cancelSync)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) webhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(raw) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "webhook body too large"})
		return
	}

	ack, err := s.webhooks.Handle(raw, c.GetHeader(signatureHeader))
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.Status(http.StatusUnauthorized)
		return
	case errors.Is(err, service.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		zap.S().Errorf("Failed to handle webhook: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if ack == service.AckEmpty {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": ack})
}

type triggerRequest struct {
	Kind     string   `json:"kind"`
	Entities []string `json:"entities"`
	Since    string   `json:"since"`
}

func (s *Server) triggerSync(c *gin.Context) {
	var body triggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	req := service.TriggerRequest{Kind: models.SyncJobKind(body.Kind)}
	for _, e := range body.Entities {
		req.Entities = append(req.Entities, models.EntityKind(e))
	}
	if body.Since != "" {
		since, err := parseSince(body.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be YYYY-MM-DD or RFC3339"})
			return
		}
		req.Since = &since
	}

	jobID, err := s.syncs.Trigger(c.Request.Context(), req)
	switch {
	case errors.Is(err, service.ErrUnknownEntityKind), errors.Is(err, service.ErrScopeTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		zap.S().Errorf("Failed to trigger sync: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger sync"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

func (s *Server) syncProgress(c *gin.Context) {
	progress, err := s.syncs.Progress(c.Request.Context(), c.Param("jobId"))
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		zap.S().Errorf("Failed to read sync progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read progress"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) cancelSync(c *gin.Context) {
	jobID := c.Param("jobId")
	err := s.syncs.Cancel(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		zap.S().Errorf("Failed to cancel sync job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "status": "cancelling"})
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
