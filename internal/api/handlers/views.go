package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/utils"
)

const maxRenderedValue = 2000

type callView struct {
	Method    string
	Args      string
	Rets      string
	Error     string
	LatencyMS int64
}

type recordView struct {
	ID        string
	AppID     string
	LatencyMS int64
	Calls     []callView
}

type feedbackView struct {
	Name   string
	Status string
	Score  string
}

type scoreCell struct {
	Value string
	Has   bool
}

type leaderboardRow struct {
	AppID        string
	Records      int
	AvgLatencyMS string
	Scores       []scoreCell
}

type pageData struct {
	Query         string
	Filtered      bool
	Submitted     bool
	Answer        string
	Error         string
	Record        *recordView
	Feedback      []feedbackView
	FeedbackNames []string
	Leaderboard   []leaderboardRow
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return utils.Truncate(s, maxRenderedValue)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return utils.Truncate(string(data), maxRenderedValue)
}

func newRecordView(rec *models.Record) *recordView {
	view := &recordView{
		ID:        rec.ID,
		AppID:     rec.AppID,
		LatencyMS: rec.Latency().Milliseconds(),
	}
	for _, call := range rec.Calls {
		view.Calls = append(view.Calls, callView{
			Method:    call.Method,
			Args:      renderValue(call.Args),
			Rets:      renderValue(call.Rets),
			Error:     call.Error,
			LatencyMS: call.Latency().Milliseconds(),
		})
	}
	return view
}

func formatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *score)
}

// newFeedbackViews lists every configured feedback in order, pending until a
// result is known.
func newFeedbackViews(names []string, results []models.FeedbackResult) []feedbackView {
	byName := make(map[string]models.FeedbackResult, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}

	views := make([]feedbackView, 0, len(names))
	for _, name := range names {
		v := feedbackView{Name: name, Status: string(models.FeedbackPending)}
		if r, ok := byName[name]; ok {
			v.Status = string(r.Status)
			v.Score = formatScore(r.Score)
		}
		views = append(views, v)
	}
	return views
}

func newLeaderboardRows(names []string, entries []models.LeaderboardEntry) []leaderboardRow {
	rows := make([]leaderboardRow, 0, len(entries))
	for _, e := range entries {
		row := leaderboardRow{
			AppID:        e.AppID,
			Records:      e.Records,
			AvgLatencyMS: fmt.Sprintf("%.0f", e.AvgLatencyMS),
		}
		for _, name := range names {
			score, ok := e.FeedbackScores[name]
			cell := scoreCell{Has: ok}
			if ok {
				cell.Value = fmt.Sprintf("%.2f", score)
			}
			row.Scores = append(row.Scores, cell)
		}
		rows = append(rows, row)
	}
	return rows
}
