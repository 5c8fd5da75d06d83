package models

import "time"

// Call is one instrumented method invocation inside a record.
type Call struct {
	Method    string         `json:"method"`
	Args      map[string]any `json:"args"`
	Rets      any            `json:"rets"`
	Error     string         `json:"error,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
}

func (c Call) Latency() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

// Record is the trace of one query through an app: the main input and
// output plus the ordered calls made while answering it.
type Record struct {
	ID         string    `json:"record_id"`
	AppID      string    `json:"app_id"`
	MainInput  string    `json:"main_input"`
	MainOutput string    `json:"main_output"`
	Error      string    `json:"error,omitempty"`
	Calls      []Call    `json:"calls"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

func (r *Record) Latency() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// CallsTo returns the calls made to method in order.
func (r *Record) CallsTo(method string) []Call {
	var calls []Call
	for _, c := range r.Calls {
		if c.Method == method {
			calls = append(calls, c)
		}
	}
	return calls
}

type FeedbackStatus string

const (
	FeedbackPending FeedbackStatus = "pending"
	FeedbackDone    FeedbackStatus = "done"
	FeedbackSkipped FeedbackStatus = "skipped"
	FeedbackFailed  FeedbackStatus = "failed"
)

// FeedbackCall is one scoring call made by a feedback function.
type FeedbackCall struct {
	Args  map[string]string `json:"args"`
	Score float64           `json:"score"`
	Meta  map[string]any    `json:"meta,omitempty"`
}

// FeedbackResult is the aggregated score of one feedback function over one
// record. Score is nil unless Status is FeedbackDone.
type FeedbackResult struct {
	ID        string         `json:"feedback_result_id"`
	RecordID  string         `json:"record_id"`
	AppID     string         `json:"app_id"`
	Name      string         `json:"name"`
	Status    FeedbackStatus `json:"status"`
	Score     *float64       `json:"score,omitempty"`
	Calls     []FeedbackCall `json:"calls,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LeaderboardEntry aggregates every record of one app.
type LeaderboardEntry struct {
	AppID          string             `json:"app_id"`
	Records        int                `json:"records"`
	AvgLatencyMS   float64            `json:"avg_latency_ms"`
	FeedbackScores map[string]float64 `json:"feedback_scores"`
}
