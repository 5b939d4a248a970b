// Package datasource runs shaped statements against the target database.
package datasource

import "context"

// ColumnInfo describes a result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult holds the rows of a single statement in column order.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Executor runs read-only statements. Implementations must be safe for
// concurrent use.
type Executor interface {
	// Query runs a statement and returns every row it produces.
	Query(ctx context.Context, sqlQuery string) (*QueryResult, error)

	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)
}

var _ Executor = (*QueryExecutor)(nil)
