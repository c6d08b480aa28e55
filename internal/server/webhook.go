package server

import (
	"net/http"

	"github.com/gigiforge/gigi/internal/forge"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleWebhook verifies and routes one forge delivery.
func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayload)
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	eventType := forge.EventType(c.Request)
	delivery := forge.DeliveryID(c.Request)

	if !s.unsigned {
		if err := forge.VerifySignature(s.secret, forge.Signature(c.Request), body); err != nil {
			log.Warn().
				Str("security", "webhook_signature").
				Str("remote", c.ClientIP()).
				Str("event", eventType).
				Str("delivery", delivery).
				Err(err).
				Msg("rejected webhook delivery")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event type header"})
		return
	}

	res, err := s.router.Route(c.Request.Context(), eventType, body, delivery)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Str("delivery", delivery).Msg("webhook routing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}
	if res == nil {
		c.JSON(http.StatusAccepted, gin.H{"routed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"routed": true, "result": res})
}
