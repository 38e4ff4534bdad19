package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"FinOracle/internal/domain/models"
	"FinOracle/internal/domain/repository"
)

var historyColumns = []string{
	"created_at", "run_id", "symbol", "state", "failed_stage", "price", "source",
	"recommendation", "confidence", "summary", "provider", "signature",
}

// HistorySchema returns the DDL of the run history table.
func HistorySchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	created_at     DateTime64(3),
	run_id         String,
	symbol         LowCardinality(String),
	state          LowCardinality(String),
	failed_stage   LowCardinality(String),
	price          Float64,
	source         LowCardinality(String),
	recommendation LowCardinality(String),
	confidence     Float64,
	summary        String,
	provider       LowCardinality(String),
	signature      String
) ENGINE = MergeTree
ORDER BY (symbol, created_at)
TTL toDateTime(created_at) + INTERVAL 90 DAY`, table)}
}

// ClickHouseHistory implements HistoryStore for ClickHouse.
type ClickHouseHistory struct {
	db    *sql.DB
	table string
}

// NewClickHouseHistory creates the history store.
func NewClickHouseHistory(db *sql.DB, table string) repository.HistoryStore {
	if table == "" {
		table = "oracle_runs"
	}
	return &ClickHouseHistory{db: db, table: table}
}

func (s *ClickHouseHistory) Init(ctx context.Context) error {
	for _, stmt := range HistorySchema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseHistory) Store(ctx context.Context, report *models.RunReport) error {
	e := models.HistoryEntryFromReport(report)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(historyColumns)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(historyColumns, ", "), placeholders)
	if _, err := s.db.ExecContext(ctx, q, historyArgs(e)...); err != nil {
		return fmt.Errorf("store run %s: %w", e.RunID, err)
	}
	return nil
}

func historyArgs(e models.HistoryEntry) []interface{} {
	return []interface{}{
		e.CreatedAt, e.RunID, e.Symbol, string(e.State), e.FailedStage, e.Price, e.Source,
		e.Recommendation, e.Confidence, e.Summary, e.Provider, e.Signature,
	}
}

func (s *ClickHouseHistory) Recent(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ? ORDER BY created_at DESC LIMIT ?",
		strings.Join(historyColumns, ", "), s.table)
	rows, err := s.db.QueryContext(ctx, q, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var state string
		if err := rows.Scan(&e.CreatedAt, &e.RunID, &e.Symbol, &state, &e.FailedStage, &e.Price, &e.Source,
			&e.Recommendation, &e.Confidence, &e.Summary, &e.Provider, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.State = models.RunState(state)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ClickHouseHistory) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseHistory) Close() error {
	return nil // pool owned by pkg/clickhouse
}
