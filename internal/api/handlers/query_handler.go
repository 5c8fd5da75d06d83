package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/middleware/validation"
	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

// Recorder runs one recorded query.
type Recorder interface {
	Record(ctx context.Context, text string) (*models.Record, error)
}

// Apps are the two recorded pipelines a submission can choose between.
type Apps struct {
	Basic    Recorder
	Filtered Recorder
}

func (a Apps) Select(filtered bool) Recorder {
	if filtered {
		return a.Filtered
	}
	return a.Basic
}

type QueryHandler struct {
	apps Apps
}

func NewQueryHandler(apps Apps) *QueryHandler {
	return &QueryHandler{
		apps: apps,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query    string `json:"query"`
		Filtered bool   `json:"filtered"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if q := validation.QueryText(c); q != "" {
		req.Query = q
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	rec, err := h.apps.Select(req.Filtered).Record(c.UserContext(), req.Query)
	if err != nil {
		logger.Error("Failed to process query", zap.Bool("filtered", req.Filtered), zap.Error(err))
		body := fiber.Map{
			"error": "Failed to process query",
		}
		if rec != nil {
			body["record_id"] = rec.ID
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	return c.JSON(fiber.Map{
		"record_id":  rec.ID,
		"app_id":     rec.AppID,
		"query":      rec.MainInput,
		"response":   rec.MainOutput,
		"calls":      rec.Calls,
		"latency_ms": rec.Latency().Milliseconds(),
	})
}
