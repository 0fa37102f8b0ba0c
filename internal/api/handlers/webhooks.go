package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/logging"
	"github.com/TheGojiOG/servervisor/internal/webhook"
)

// WebhookTester delivers a test notification synchronously
type WebhookTester interface {
	SendTest(ctx context.Context, server string) (webhook.Result, error)
}

// DeliveryLister returns recent delivery attempts
type DeliveryLister interface {
	ListDeliveries(ctx context.Context, server string, limit int) ([]webhook.DeliveryRecord, error)
}

// WebhookHandler manages per-server webhook configuration
type WebhookHandler struct {
	serverManager  *config.ServerManager
	store          webhook.ConfigStore
	tester         WebhookTester
	deliveries     DeliveryLister
	activityLogger *logging.ActivityLogger
}

// NewWebhookHandler creates a webhook handler. deliveries may be nil.
func NewWebhookHandler(serverManager *config.ServerManager, store webhook.ConfigStore, tester WebhookTester, deliveries DeliveryLister, activityLogger *logging.ActivityLogger) *WebhookHandler {
	return &WebhookHandler{
		serverManager:  serverManager,
		store:          store,
		tester:         tester,
		deliveries:     deliveries,
		activityLogger: activityLogger,
	}
}

// GetWebhook returns the webhook configuration of a server
func (h *WebhookHandler) GetWebhook(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	cfg, err := h.store.Load(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load webhook configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "webhook": cfg})
}

// UpdateWebhook saves url, trigger switches and the watched username. Triggers
// missing from the request keep their current value.
func (h *WebhookHandler) UpdateWebhook(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	var update webhook.Config
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	for t := range update.Triggers {
		if _, err := webhook.ParseTrigger(string(t)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	current, err := h.store.Load(ctx, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load webhook configuration"})
		return
	}

	merged := current.Merge(update)
	if err := h.store.Save(ctx, name, merged); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to save webhook configuration"})
		return
	}

	_ = h.activityLogger.LogActivity(&logging.Activity{
		ServerName:   name,
		ActivityType: logging.ActivityConfigUpdate,
		Description:  "Webhook configuration updated",
		Metadata:     map[string]interface{}{"configured": merged.Configured()},
		Success:      true,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook configuration saved", "webhook": merged})
}

// TestWebhook sends a test message regardless of trigger switches
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}

	res, err := h.tester.SendTest(c.Request.Context(), name)

	activity := &logging.Activity{
		ServerName:   name,
		ActivityType: logging.ActivityWebhookTest,
		Description:  "Webhook test sent",
		Metadata:     map[string]interface{}{"status_code": res.StatusCode},
		Success:      err == nil && res.Delivered,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	_ = h.activityLogger.LogActivity(activity)

	switch {
	case errors.Is(err, webhook.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Webhook not configured"})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": fmt.Sprintf("Webhook delivery failed: %v", err), "status_code": res.StatusCode})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook sent", "status_code": res.StatusCode})
	}
}

// ListDeliveries returns the latest delivery attempts of a server
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.serverManager.Get(name); !ok {
		notFound(c)
		return
	}
	if h.deliveries == nil {
		c.JSON(http.StatusOK, gin.H{"deliveries": []webhook.DeliveryRecord{}})
		return
	}

	records, err := h.deliveries.ListDeliveries(c.Request.Context(), name, queryInt(c, "limit", 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load webhook deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": records})
}
