package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/intelliparse/internal/service"
)

// WebhookReceiverHandler is a reference consumer of job webhooks. It
// checks the signature and echoes the decoded payload.
type WebhookReceiverHandler struct {
	secret []byte
}

// NewWebhookReceiverHandler creates a receiver verifying with secret.
func NewWebhookReceiverHandler(secret string) *WebhookReceiverHandler {
	return &WebhookReceiverHandler{secret: []byte(secret)}
}

// Receive handles POST /webhooks/intelliparse.
func (h *WebhookReceiverHandler) Receive(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	verified := service.Verify(h.secret, raw, c.GetHeader(service.SignatureHeader))

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = gin.H{"raw": strings.ToValidUTF8(string(raw), "")}
	}

	c.JSON(http.StatusOK, gin.H{
		"verified": verified,
		"payload":  payload,
	})
}
