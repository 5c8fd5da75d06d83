package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/internal/storage/sqlite"
	"github.com/ragscope/backend/pkg/logger"
)

type FeedbackHub interface {
	Subscribe(recordID string, buffer int) (<-chan models.FeedbackResult, func())
	Subscribers(recordID string) int
}

// WebSocketHandler streams the feedback results of one record as they
// complete and closes once every feedback has reported.
type WebSocketHandler struct {
	store   RecordStore
	hub     FeedbackHub
	names   []string
	timeout time.Duration
}

func NewWebSocketHandler(store RecordStore, hub FeedbackHub, feedbackNames []string, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WebSocketHandler{
		store:   store,
		hub:     hub,
		names:   feedbackNames,
		timeout: timeout,
	}
}

func (h *WebSocketHandler) HandleFeedback(c *websocket.Conn) {
	recordID := c.Params("id")

	defer func() {
		c.Close()
		logger.Debug("Feedback stream closed", zap.String("record_id", recordID))
	}()

	// Subscribe before reading stored results so nothing finishing in
	// between is missed.
	updates, cancel := h.hub.Subscribe(recordID, len(h.names)+1)
	defer cancel()

	logger.Debug("Feedback stream opened",
		zap.String("record_id", recordID),
		zap.Int("subscribers", h.hub.Subscribers(recordID)),
	)

	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if _, err := h.store.GetRecord(ctx, recordID); err != nil {
		msg := "Failed to load record"
		if errors.Is(err, sqlite.ErrNotFound) {
			msg = "Record not found"
		}
		h.sendError(c, msg)
		return
	}

	stored, err := h.store.GetFeedbackResults(ctx, recordID)
	if err != nil {
		logger.Error("Failed to load feedback", zap.String("record_id", recordID), zap.Error(err))
		h.sendError(c, "Failed to load feedback")
		return
	}

	reported := make(map[string]bool, len(h.names))
	for _, r := range stored {
		if r.Status == models.FeedbackPending {
			continue
		}
		if err := h.sendResult(c, r); err != nil {
			return
		}
		reported[r.Name] = true
	}

	deadline := time.NewTimer(h.timeout)
	defer deadline.Stop()

	for !h.allReported(reported) {
		select {
		case r, ok := <-updates:
			if !ok {
				return
			}
			if reported[r.Name] || r.Status == models.FeedbackPending {
				continue
			}
			if err := h.sendResult(c, r); err != nil {
				return
			}
			reported[r.Name] = true
		case <-deadline.C:
			logger.Warn("Feedback stream timed out",
				zap.String("record_id", recordID),
				zap.Int("reported", len(reported)),
			)
			h.sendError(c, "Timed out waiting for feedback")
			return
		}
	}

	c.WriteJSON(map[string]interface{}{
		"type":      "complete",
		"record_id": recordID,
	})
}

func (h *WebSocketHandler) allReported(reported map[string]bool) bool {
	for _, name := range h.names {
		if !reported[name] {
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) sendResult(c *websocket.Conn, r models.FeedbackResult) error {
	err := c.WriteJSON(map[string]interface{}{
		"type":   "feedback",
		"result": r,
	})
	if err != nil {
		logger.Debug("Failed to write feedback message", zap.Error(err))
	}
	return err
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
