package datasource

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/sql"
)

// QueryExecutor provides PostgreSQL query execution over a shared pool.
// Every statement runs inside a READ ONLY transaction.
type QueryExecutor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewQueryExecutor creates an executor on an existing pool. The pool is owned
// by the caller and must outlive the executor.
func NewQueryExecutor(pool *pgxpool.Pool, logger *zap.Logger) *QueryExecutor {
	return &QueryExecutor{
		pool:   pool,
		logger: logger.Named("datasource"),
	}
}

// Query runs a SQL statement and returns the results.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string) (*QueryResult, error) {
	start := time.Now()
	result := &QueryResult{Rows: make([]map[string]any, 0)}

	err := e.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sqlQuery)
		if err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
		defer rows.Close()

		fieldDescs := rows.FieldDescriptions()
		result.Columns = make([]ColumnInfo, len(fieldDescs))
		for i, fd := range fieldDescs {
			result.Columns[i] = ColumnInfo{
				Name: fd.Name,
				Type: pgTypeNameFromOID(fd.DataTypeOID),
			}
		}

		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return fmt.Errorf("failed to read row values: %w", err)
			}

			rowMap := make(map[string]any, len(result.Columns))
			for i, col := range result.Columns {
				rowMap[col.Name] = normalizeValue(values[i])
			}
			result.Rows = append(result.Rows, rowMap)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, e.wrap(err)
	}

	result.RowCount = len(result.Rows)
	e.logger.Debug("Query executed",
		zap.String("sql", logging.SanitizeQuery(sqlQuery)),
		zap.Int("rows", result.RowCount),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// Count returns SELECT COUNT(*) for a table name taken from a generated statement.
func (e *QueryExecutor) Count(ctx context.Context, table string) (int64, error) {
	stmt, err := sql.CountQuery(table)
	if err != nil {
		return 0, err
	}

	var n int64
	err = e.readOnly(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, stmt).Scan(&n); err != nil {
			return fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return 0, e.wrap(err)
	}
	return n, nil
}

// readOnly runs fn in a READ ONLY transaction that is always rolled back.
func (e *QueryExecutor) readOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			e.logger.Warn("Failed to roll back read-only transaction", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	return fn(tx)
}

// wrap maps pool shutdown onto apperrors.ErrPoolClosed so callers can tell it
// apart from a bad statement.
func (e *QueryExecutor) wrap(err error) error {
	if errors.Is(err, puddle.ErrClosedPool) {
		return fmt.Errorf("%w: %v", apperrors.ErrPoolClosed, err)
	}
	return err
}

// normalizeValue converts pgx values that do not encode cleanly as JSON.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		// pgx returns UUID as [16]byte
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finiteOrString(f.Float64)
	case float64:
		return finiteOrString(val)
	case float32:
		return finiteOrString(float64(val))
	default:
		return v
	}
}

// finiteOrString keeps NaN and infinities out of encoding/json, which rejects them.
func finiteOrString(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to human-readable type names.
// This covers the most common types; unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case pgtype.BoolOID:
		return "BOOL"
	case pgtype.ByteaOID:
		return "BYTEA"
	case pgtype.Int8OID:
		return "INT8"
	case pgtype.Int2OID:
		return "INT2"
	case pgtype.Int4OID:
		return "INT4"
	case pgtype.TextOID:
		return "TEXT"
	case pgtype.JSONOID:
		return "JSON"
	case pgtype.Float4OID:
		return "FLOAT4"
	case pgtype.Float8OID:
		return "FLOAT8"
	case pgtype.BPCharOID:
		return "BPCHAR"
	case pgtype.VarcharOID:
		return "VARCHAR"
	case pgtype.DateOID:
		return "DATE"
	case pgtype.TimeOID:
		return "TIME"
	case pgtype.TimestampOID:
		return "TIMESTAMP"
	case pgtype.TimestamptzOID:
		return "TIMESTAMPTZ"
	case pgtype.IntervalOID:
		return "INTERVAL"
	case pgtype.NumericOID:
		return "NUMERIC"
	case pgtype.UUIDOID:
		return "UUID"
	case pgtype.JSONBOID:
		return "JSONB"
	default:
		return "UNKNOWN"
	}
}
