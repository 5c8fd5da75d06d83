package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RowQuerier is satisfied by *sql.DB and *sql.Conn.
type RowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const cortexSearchSQL = `SELECT SNOWFLAKE.CORTEX.SEARCH_PREVIEW(?, ?)`

// CortexSearch queries a Cortex Search service through the warehouse
// session.
type CortexSearch struct {
	db      RowQuerier
	service string
	column  string
}

func NewCortexSearch(db RowQuerier, service, column string) *CortexSearch {
	return &CortexSearch{db: db, service: service, column: column}
}

func (c *CortexSearch) Backend() string { return "cortex" }

type searchRequest struct {
	Query   string   `json:"query"`
	Columns []string `json:"columns"`
	Limit   int      `json:"limit"`
}

func (c *CortexSearch) Search(ctx context.Context, query string, limit int) ([]string, error) {
	body, err := buildSearchRequest(query, c.column, limit)
	if err != nil {
		return nil, err
	}

	var raw sql.NullString
	if err := c.db.QueryRowContext(ctx, cortexSearchSQL, c.service, body).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to query search service %s: %w", c.service, err)
	}
	if !raw.Valid {
		return []string{}, nil
	}

	return parseSearchResponse([]byte(raw.String), c.column)
}

func buildSearchRequest(query, column string, limit int) (string, error) {
	data, err := json.Marshal(searchRequest{
		Query:   query,
		Columns: []string{column},
		Limit:   limit,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}
	return string(data), nil
}

// parseSearchResponse reads results[].<column> from a search response.
// Results without the column are skipped.
func parseSearchResponse(data []byte, column string) ([]string, error) {
	var resp struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	chunks := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		text, ok := r[column].(string)
		if !ok {
			continue
		}
		chunks = append(chunks, text)
	}
	return chunks, nil
}
