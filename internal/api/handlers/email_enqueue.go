package handlers

import (
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"afriverse/core/internal/tasks"
)

// EmailRequest describes one email to enqueue for background delivery.
type EmailRequest struct {
	To         string
	TemplateID string
	Locale     string
	Data       map[string]interface{}
}

// enqueueEmail hands an email off to the background worker. Best-effort: a
// queue failure is logged and never fails the request that triggered it.
func enqueueEmail(c *gin.Context, taskClient IAsynqClient, req EmailRequest) {
	if taskClient == nil {
		return
	}

	payloadBytes, err := json.Marshal(tasks.EmailTaskPayload{
		To:         req.To,
		TemplateID: req.TemplateID,
		Locale:     req.Locale,
		Data:       req.Data,
	})
	if err != nil {
		log.Printf("WARN: failed to marshal email payload (template %s): %v", req.TemplateID, err)
		return
	}

	task := asynq.NewTask(tasks.TypeEmailDelivery, payloadBytes)
	if _, err := taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		log.Printf("WARN: failed to enqueue %s email to %s: %v", req.TemplateID, req.To, err)
	}
}
