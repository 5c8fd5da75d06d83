package handlers

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/middleware/validation"
	"github.com/ragscope/backend/pkg/logger"
)

// DefaultQuestion prefills the chat form.
const DefaultQuestion = "How do I launch a streamlit app?"

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type UIHandler struct {
	apps          Apps
	store         RecordStore
	feedbackNames []string
}

func NewUIHandler(apps Apps, store RecordStore, feedbackNames []string) *UIHandler {
	return &UIHandler{
		apps:          apps,
		store:         store,
		feedbackNames: feedbackNames,
	}
}

func (h *UIHandler) Index(c *fiber.Ctx) error {
	data := pageData{Query: DefaultQuestion}
	h.loadLeaderboard(c, &data)
	return h.render(c, fiber.StatusOK, data)
}

func (h *UIHandler) Submit(c *fiber.Ctx) error {
	data := pageData{
		Query:         validation.QueryText(c),
		Filtered:      c.FormValue("filtered") == "on",
		Submitted:     true,
		FeedbackNames: h.feedbackNames,
	}
	if data.Query == "" {
		data.Query = c.FormValue("text")
	}

	status := fiber.StatusOK
	rec, err := h.apps.Select(data.Filtered).Record(c.UserContext(), data.Query)
	if err != nil {
		logger.Error("Failed to process submission", zap.Bool("filtered", data.Filtered), zap.Error(err))
		data.Error = "Failed to answer the question. Check the server logs for details."
		status = fiber.StatusInternalServerError
	}
	if rec != nil {
		data.Answer = rec.MainOutput
		data.Record = newRecordView(rec)

		results, ferr := h.store.GetFeedbackResults(c.UserContext(), rec.ID)
		if ferr != nil {
			logger.Warn("Failed to load feedback", zap.String("record_id", rec.ID), zap.Error(ferr))
		}
		data.Feedback = newFeedbackViews(h.feedbackNames, results)
	}

	h.loadLeaderboard(c, &data)
	return h.render(c, status, data)
}

func (h *UIHandler) loadLeaderboard(c *fiber.Ctx, data *pageData) {
	data.FeedbackNames = h.feedbackNames
	entries, err := h.store.Leaderboard(c.UserContext())
	if err != nil {
		logger.Warn("Failed to load leaderboard", zap.Error(err))
		return
	}
	data.Leaderboard = newLeaderboardRows(h.feedbackNames, entries)
}

func (h *UIHandler) render(c *fiber.Ctx, status int, data pageData) error {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		logger.Error("Failed to render page", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to render page")
	}

	c.Type("html", "utf-8")
	return c.Status(status).Send(buf.Bytes())
}
