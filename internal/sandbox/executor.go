package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tabletalk/tabletalk/internal/observability"
)

// Request is one statement to run against one dataset snapshot. The
// snapshot is registered as a view under every name in Relations so
// each table reference the statement was validated with resolves.
type Request struct {
	SQL       string
	Snapshot  []byte
	Relations []string
	RowCap    int
}

// Result is the outcome of a sandbox run. Engine-level failures are
// reported as Success=false with Error set; the executor returns a Go
// error only for infrastructure problems or context cancellation.
type Result struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"data,omitempty"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"-"`
}

// Executor runs statements against throwaway in-memory DuckDB
// instances, one per call. Nothing is shared between calls.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(ctx context.Context, request Request) (Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	if len(request.Snapshot) == 0 {
		return Result{}, fmt.Errorf("snapshot is required")
	}
	relations := make([]string, 0, len(request.Relations))
	for _, relation := range request.Relations {
		if trimmed := strings.TrimSpace(relation); trimmed != "" {
			relations = append(relations, trimmed)
		}
	}
	if len(relations) == 0 {
		return Result{}, fmt.Errorf("at least one relation name is required")
	}
	if request.RowCap <= 0 {
		return Result{}, fmt.Errorf("row cap must be positive")
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "tabletalk-sandbox-")
	if err != nil {
		return Result{}, fmt.Errorf("create sandbox temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, "snapshot.parquet")
	if err := os.WriteFile(localPath, request.Snapshot, 0o600); err != nil {
		return Result{}, fmt.Errorf("write local parquet file: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for _, relation := range relations {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(relation), quoteString(localPath))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, fmt.Errorf("register snapshot as %q: %w", relation, err)
		}
	}

	sqlText := stripTrailingSemicolons(request.SQL)
	capped := fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowCap)

	rows, err := db.QueryContext(ctx, capped)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return failed(start, err), nil
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return failed(start, err), nil
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return failed(start, err), nil
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, record)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return failed(start, err), nil
	}

	elapsed := time.Since(start)
	observability.ObserveSandboxDuration(elapsed)
	return Result{
		Success:  true,
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Duration: elapsed,
	}, nil
}

func failed(start time.Time, err error) Result {
	elapsed := time.Since(start)
	observability.ObserveSandboxDuration(elapsed)
	return Result{
		Success:  false,
		Error:    err.Error(),
		Duration: elapsed,
	}
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
