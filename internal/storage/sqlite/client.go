package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Feedback workers and request handlers share one writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		main_input TEXT NOT NULL,
		main_output TEXT,
		error TEXT,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_app ON records(app_id);
	CREATE INDEX IF NOT EXISTS idx_records_start ON records(start_time);

	CREATE TABLE IF NOT EXISTS record_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		call_index INTEGER NOT NULL,
		method TEXT NOT NULL,
		args TEXT,
		rets TEXT,
		error TEXT,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_calls_record ON record_calls(record_id);

	CREATE TABLE IF NOT EXISTS feedback_results (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		app_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		score REAL,
		calls TEXT,
		error TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_record ON feedback_results(record_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_app_name ON feedback_results(app_id, name);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRecord(ctx context.Context, record *models.Record) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, app_id, main_input, main_output, error, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AppID,
		record.MainInput,
		record.MainOutput,
		record.Error,
		record.StartTime.UnixNano(),
		record.EndTime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	for i, call := range record.Calls {
		argsJSON, err := json.Marshal(call.Args)
		if err != nil {
			return fmt.Errorf("failed to marshal args of %s: %w", call.Method, err)
		}
		retsJSON, err := json.Marshal(call.Rets)
		if err != nil {
			return fmt.Errorf("failed to marshal rets of %s: %w", call.Method, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO record_calls (record_id, call_index, method, args, rets, error, start_time, end_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			i,
			call.Method,
			string(argsJSON),
			string(retsJSON),
			call.Error,
			call.StartTime.UnixNano(),
			call.EndTime.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert call: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	logger.Debug("Record stored",
		zap.String("record_id", record.ID),
		zap.String("app_id", record.AppID),
		zap.Int("calls", len(record.Calls)),
	)

	return nil
}

func (c *Client) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var r models.Record
	var startTime, endTime int64
	var output, errText sql.NullString

	err := c.db.QueryRowContext(ctx,
		`SELECT id, app_id, main_input, main_output, error, start_time, end_time FROM records WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.AppID, &r.MainInput, &output, &errText, &startTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	r.MainOutput = output.String
	r.Error = errText.String
	r.StartTime = time.Unix(0, startTime)
	r.EndTime = time.Unix(0, endTime)

	calls, err := c.getCalls(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Calls = calls

	return &r, nil
}

func (c *Client) getCalls(ctx context.Context, recordID string) ([]models.Call, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT method, args, rets, error, start_time, end_time
		FROM record_calls WHERE record_id = ? ORDER BY call_index`,
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get calls: %w", err)
	}
	defer rows.Close()

	calls := []models.Call{}
	for rows.Next() {
		var call models.Call
		var argsJSON, retsJSON, errText sql.NullString
		var startTime, endTime int64

		if err := rows.Scan(&call.Method, &argsJSON, &retsJSON, &errText, &startTime, &endTime); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}

		if argsJSON.Valid {
			if err := json.Unmarshal([]byte(argsJSON.String), &call.Args); err != nil {
				return nil, fmt.Errorf("failed to decode args: %w", err)
			}
		}
		if retsJSON.Valid {
			if err := json.Unmarshal([]byte(retsJSON.String), &call.Rets); err != nil {
				return nil, fmt.Errorf("failed to decode rets: %w", err)
			}
		}
		call.Error = errText.String
		call.StartTime = time.Unix(0, startTime)
		call.EndTime = time.Unix(0, endTime)
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// ListRecords returns the newest records first, without their calls. An
// empty appID lists every app.
func (c *Client) ListRecords(ctx context.Context, appID string, limit int) ([]models.Record, error) {
	query := `SELECT id, app_id, main_input, main_output, error, start_time, end_time FROM records`
	args := []any{}
	if appID != "" {
		query += ` WHERE app_id = ?`
		args = append(args, appID)
	}
	query += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var r models.Record
		var output, errText sql.NullString
		var startTime, endTime int64

		if err := rows.Scan(&r.ID, &r.AppID, &r.MainInput, &output, &errText, &startTime, &endTime); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.MainOutput = output.String
		r.Error = errText.String
		r.StartTime = time.Unix(0, startTime)
		r.EndTime = time.Unix(0, endTime)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) InsertFeedbackResult(ctx context.Context, result *models.FeedbackResult) error {
	callsJSON, err := json.Marshal(result.Calls)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback calls: %w", err)
	}

	var score sql.NullFloat64
	if result.Score != nil {
		score = sql.NullFloat64{Float64: *result.Score, Valid: true}
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO feedback_results (id, record_id, app_id, name, status, score, calls, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			score = excluded.score,
			calls = excluded.calls,
			error = excluded.error`,
		result.ID,
		result.RecordID,
		result.AppID,
		result.Name,
		string(result.Status),
		score,
		string(callsJSON),
		result.Error,
		result.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback result: %w", err)
	}

	logger.Debug("Feedback result stored",
		zap.String("record_id", result.RecordID),
		zap.String("feedback", result.Name),
		zap.String("status", string(result.Status)),
	)

	return nil
}

func (c *Client) GetFeedbackResults(ctx context.Context, recordID string) ([]models.FeedbackResult, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, record_id, app_id, name, status, score, calls, error, created_at
		FROM feedback_results WHERE record_id = ? ORDER BY name`,
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback results: %w", err)
	}
	defer rows.Close()

	results := []models.FeedbackResult{}
	for rows.Next() {
		var r models.FeedbackResult
		var status string
		var score sql.NullFloat64
		var callsJSON, errText sql.NullString
		var createdAt int64

		if err := rows.Scan(&r.ID, &r.RecordID, &r.AppID, &r.Name, &status, &score, &callsJSON, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback result: %w", err)
		}

		r.Status = models.FeedbackStatus(status)
		if score.Valid {
			s := score.Float64
			r.Score = &s
		}
		if callsJSON.Valid && callsJSON.String != "" && callsJSON.String != "null" {
			if err := json.Unmarshal([]byte(callsJSON.String), &r.Calls); err != nil {
				return nil, fmt.Errorf("failed to decode feedback calls: %w", err)
			}
		}
		r.Error = errText.String
		r.CreatedAt = time.Unix(0, createdAt)
		results = append(results, r)
	}

	return results, rows.Err()
}

// Leaderboard aggregates every app: record count, mean latency and the mean
// of each feedback over its completed results.
func (c *Client) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT app_id, COUNT(*), AVG((end_time - start_time) / 1000000.0)
		FROM records GROUP BY app_id ORDER BY app_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}

	entries := []models.LeaderboardEntry{}
	index := map[string]int{}
	for rows.Next() {
		e := models.LeaderboardEntry{FeedbackScores: map[string]float64{}}
		if err := rows.Scan(&e.AppID, &e.Records, &e.AvgLatencyMS); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		index[e.AppID] = len(entries)
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scoreRows, err := c.db.QueryContext(ctx,
		`SELECT app_id, name, AVG(score) FROM feedback_results
		WHERE status = ? AND score IS NOT NULL
		GROUP BY app_id, name`,
		string(models.FeedbackDone),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate feedback: %w", err)
	}
	defer scoreRows.Close()

	for scoreRows.Next() {
		var appID, name string
		var avg float64
		if err := scoreRows.Scan(&appID, &name, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if i, ok := index[appID]; ok {
			entries[i].FeedbackScores[name] = avg
		}
	}

	return entries, scoreRows.Err()
}
