package handlers

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/mailer"
	"github.com/hacktisch/mailcow-status-tracker/internal/models"
	"github.com/hacktisch/mailcow-status-tracker/internal/scheduler"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
	"github.com/hacktisch/mailcow-status-tracker/internal/syncer"
)

// Pixel loads within this window of the send are assumed to be scanner
// prefetches, not humans.
const trackingOpenDelay = 5 * time.Second

const activityPageLimit = 100

// Handlers contains all HTTP handlers
type Handlers struct {
	store        *store.Store
	syncer       *syncer.Syncer
	mailer       *mailer.Mailer
	scheduler    *scheduler.Scheduler
	authPassword string
}

// NewHandlers creates new HTTP handlers
func NewHandlers(s *store.Store, sy *syncer.Syncer, m *mailer.Mailer, sched *scheduler.Scheduler, authPassword string) *Handlers {
	return &Handlers{
		store:        s,
		syncer:       sy,
		mailer:       m,
		scheduler:    sched,
		authPassword: authPassword,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Pipeline surface
	router.GET("/", h.ActivityPage)
	router.GET("/message", h.MessageStatuses)
	router.GET("/sync-logs", h.SyncLogs)
	router.POST("/send", h.SendMail)
	router.GET("/track", h.TrackOpen)

	// Scheduler control
	api := router.Group("/api/v1")
	{
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	status := "ok"
	database := "ok"

	if err := h.store.DB().Exec("SELECT 1").Error; err != nil {
		status = "error"
		database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	schedulerState := "stopped"
	if h.scheduler.IsRunning() {
		schedulerState = "running"
	}

	statusCode := http.StatusOK
	if status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now(),
		"database":  database,
		"scheduler": schedulerState,
	})
}

// MessageStatuses returns the ordered status history for one message id
func (h *Handlers) MessageStatuses(c *gin.Context) {
	messageID := c.Query("message_id")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id query parameter is required"})
		return
	}

	statuses, err := h.store.StatusHistory(messageID)
	if err != nil {
		logrus.Errorf("Error fetching statuses for message_id %s: %v", messageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if len(statuses) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No statuses found for the given message_id"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message_id": messageID,
		"statuses":   statuses,
	})
}

// SyncLogs triggers a full sync cycle on demand and returns its counts
func (h *Handlers) SyncLogs(c *gin.Context) {
	result := h.syncer.Sync(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// SendMailRequest is the request body of the send endpoint
type SendMailRequest struct {
	From                string              `json:"from" binding:"required"`
	To                  string              `json:"to" binding:"required"`
	ReplyTo             string              `json:"reply_to"`
	Subject             string              `json:"subject" binding:"required"`
	CC                  []string            `json:"cc"`
	BCC                 []string            `json:"bcc"`
	Text                string              `json:"text"`
	HTML                string              `json:"html"`
	IncludeTracker      bool                `json:"includeTracker"`
	Password            string              `json:"password"`
	Attachments         []AttachmentRequest `json:"attachments"`
	UnsubscribeURL      string              `json:"unsubscribeUrl"`
	UnsubscribeEmail    string              `json:"unsubscribeEmail"`
	UnsubscribeLinkText string              `json:"unsubscribeLinkText"`
}

// AttachmentRequest is one base64-encoded attachment in a send request
type AttachmentRequest struct {
	Filename    string `json:"filename"`
	Filecontent string `json:"filecontent"`
}

// SendMail submits one message over SMTP
func (h *Handlers) SendMail(c *gin.Context) {
	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing required fields: 'from', 'to', 'subject'.",
		})
		return
	}

	if h.authPassword != "" && req.Password != h.authPassword {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized: Invalid or missing password.",
		})
		return
	}

	attachments := make([]mailer.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(att.Filecontent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Attachment content must be base64 encoded.",
			})
			return
		}
		attachments = append(attachments, mailer.Attachment{
			Filename: att.Filename,
			Content:  content,
		})
	}

	messageID, err := h.mailer.Send(c.Request.Context(), mailer.SendRequest{
		From:                req.From,
		To:                  req.To,
		ReplyTo:             req.ReplyTo,
		CC:                  req.CC,
		BCC:                 req.BCC,
		Subject:             req.Subject,
		Text:                req.Text,
		HTML:                req.HTML,
		IncludeTracker:      req.IncludeTracker,
		Attachments:         attachments,
		UnsubscribeURL:      req.UnsubscribeURL,
		UnsubscribeEmail:    req.UnsubscribeEmail,
		UnsubscribeLinkText: req.UnsubscribeLinkText,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"messageId": messageID,
	})
}

// 1x1 transparent GIF served by the tracking endpoint
var trackingPixel, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// TrackOpen records an "open" status for the mail carrying the tracking id
// and dispatches webhooks, then serves the pixel. Loads arriving within a
// few seconds of the send are mail-scanner prefetches and are ignored. The
// pixel is always served, even when nothing is recorded.
func (h *Handlers) TrackOpen(c *gin.Context) {
	trackingID := c.Query("trackingId")

	if trackingID != "" {
		threshold := time.Now().Add(-trackingOpenDelay)
		mails, err := h.store.FindMailByTrackingID(trackingID, threshold)
		if err != nil {
			logrus.Errorf("Failed to look up tracking id %s: %v", trackingID, err)
		} else if len(mails) > 0 {
			logrus.Infof("Human opened email with tracking ID: %s", trackingID)
			for _, mail := range mails {
				if _, err := h.store.RecordStatus(mail.QueueID, "open", ""); err != nil {
					logrus.Errorf("Failed to record open for %s: %v", mail.QueueID, err)
				}
			}
			h.syncer.Dispatch(c.Request.Context())
		} else {
			logrus.Infof("Skipping open for tracking ID %s due to short timespan.", trackingID)
		}
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Header("Surrogate-Control", "no-store")
	c.Data(http.StatusOK, "image/gif", trackingPixel)
}

// StartScheduler starts the sync scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the sync scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs the sync cycle once
func (h *Handlers) RunOnce(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.RunOnce())
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
