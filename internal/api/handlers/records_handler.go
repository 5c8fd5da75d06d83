package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/internal/storage/sqlite"
	"github.com/ragscope/backend/pkg/logger"
)

type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListRecords(ctx context.Context, appID string, limit int) ([]models.Record, error)
	GetFeedbackResults(ctx context.Context, recordID string) ([]models.FeedbackResult, error)
	Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type RecordsHandler struct {
	store RecordStore
}

func NewRecordsHandler(store RecordStore) *RecordsHandler {
	return &RecordsHandler{store: store}
}

func (h *RecordsHandler) ListRecords(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 200",
		})
	}

	records, err := h.store.ListRecords(c.UserContext(), c.Query("app_id"), limit)
	if err != nil {
		logger.Error("Failed to list records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list records",
		})
	}

	return c.JSON(fiber.Map{
		"records": records,
	})
}

func (h *RecordsHandler) GetRecord(c *fiber.Ctx) error {
	rec, err := h.store.GetRecord(c.UserContext(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Record not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get record", zap.String("record_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get record",
		})
	}

	return c.JSON(rec)
}

func (h *RecordsHandler) GetFeedback(c *fiber.Ctx) error {
	results, err := h.store.GetFeedbackResults(c.UserContext(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to get feedback", zap.String("record_id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get feedback",
		})
	}

	return c.JSON(fiber.Map{
		"record_id": c.Params("id"),
		"feedback":  results,
	})
}

func (h *RecordsHandler) Leaderboard(c *fiber.Ctx) error {
	entries, err := h.store.Leaderboard(c.UserContext())
	if err != nil {
		logger.Error("Failed to build leaderboard", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build leaderboard",
		})
	}

	return c.JSON(fiber.Map{
		"leaderboard": entries,
	})
}
