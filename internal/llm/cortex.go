package llm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ragscope/backend/pkg/logger"
)

// RowQuerier is satisfied by *sql.DB and *sql.Conn.
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CortexClient runs SNOWFLAKE.CORTEX.COMPLETE over a warehouse session.
type CortexClient struct {
	db    RowQuerier
	guard *guard
}

func NewCortexClient(db RowQuerier, cfg GuardConfig) *CortexClient {
	logger.Info("Cortex completion client initialized")
	return &CortexClient{db: db, guard: newGuard("cortex", cfg)}
}

const cortexCompleteSQL = `SELECT SNOWFLAKE.CORTEX.COMPLETE(?, ?)`

func (c *CortexClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	var completion sql.NullString

	err := c.guard.do(ctx, model, func(ctx context.Context) error {
		return c.db.QueryRowContext(ctx, cortexCompleteSQL, model, prompt).Scan(&completion)
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete: %w", err)
	}
	if !completion.Valid {
		return "", errors.New("failed to complete: cortex returned NULL")
	}

	logger.Debug("Cortex completion generated",
		zap.String("model", model),
		zap.Int("prompt_length", len(prompt)),
		zap.Int("completion_length", len(completion.String)),
	)

	return strings.TrimSpace(completion.String), nil
}
