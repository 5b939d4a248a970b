//go:build integration

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/datasource"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/guard"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/sql"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/testhelpers"
)

// newDatabasePipeline runs everything for real except retrieval and the model.
func newDatabasePipeline(t *testing.T, cfg NLQueryConfig, modelSQL string) *NLQueryService {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	phrases, err := guard.LoadKeywords("")
	require.NoError(t, err)
	filter, err := guard.NewFilter(phrases, true, zap.NewNop())
	require.NoError(t, err)

	aggregates, err := sql.LoadAggregateKeywords("")
	require.NoError(t, err)
	shaper, err := sql.NewShaper(sql.DefaultMaxLimit, aggregates)
	require.NoError(t, err)

	return NewNLQueryService(
		filter,
		&mockRetriever{},
		prompts.NewNLToSQLCompiler(""),
		&mockTranslator{InvokeFunc: modelReturns(modelSQL)},
		shaper,
		datasource.NewQueryExecutor(db.Pool, zap.NewNop()),
		nil,
		cfg,
		zap.NewNop(),
	)
}

func TestNLQueryService_Integration(t *testing.T) {
	tests := []struct {
		name       string
		cfg        NLQueryConfig
		modelSQL   string
		req        DataRequest
		wantKind   OutcomeKind
		wantRows   int
		wantLength int64
	}{
		{
			name:       "page of orders with total count",
			modelSQL:   "```sql\nSELECT order_id, amount FROM point_order ORDER BY order_id;\n```",
			req:        DataRequest{UserQuery: "list orders", Offset: 5, Limit: 3},
			wantKind:   OutcomeSuccess,
			wantRows:   3,
			wantLength: 25,
		},
		{
			name:       "limit capped",
			modelSQL:   "SELECT * FROM customers",
			req:        DataRequest{UserQuery: "list customers", Limit: 9999},
			wantKind:   OutcomeSuccess,
			wantRows:   10,
			wantLength: 12,
		},
		{
			name:       "aggregate returned whole",
			modelSQL:   "SELECT city, COUNT(*) AS n FROM customers GROUP BY city",
			req:        DataRequest{UserQuery: "customers per city", Limit: 1},
			wantKind:   OutcomeSuccess,
			wantRows:   2,
			wantLength: 12,
		},
		{
			name:       "join counted on first table",
			modelSQL:   "SELECT t.task_id, o.amount FROM point_task t INNER JOIN point_order o ON t.order_id = o.order_id",
			req:        DataRequest{UserQuery: "tasks with order amounts", Limit: 5},
			wantKind:   OutcomeSuccess,
			wantRows:   5,
			wantLength: 40,
		},
		{
			name:       "join reports page size when configured",
			cfg:        NLQueryConfig{SkipCountForJoins: true},
			modelSQL:   "SELECT t.task_id, o.amount FROM point_task t INNER JOIN point_order o ON t.order_id = o.order_id",
			req:        DataRequest{UserQuery: "tasks with order amounts", Limit: 5},
			wantKind:   OutcomeSuccess,
			wantRows:   5,
			wantLength: 5,
		},
		{
			name:     "offset past the end",
			modelSQL: "SELECT * FROM point_order",
			req:      DataRequest{UserQuery: "list orders", Offset: 100, Limit: 10},
			wantKind: OutcomeNoData,
		},
		{
			name:     "empty table",
			modelSQL: "SELECT * FROM empty_table",
			req:      DataRequest{UserQuery: "list empty rows", Limit: 10},
			wantKind: OutcomeNoData,
		},
		{
			name:     "unknown column",
			modelSQL: "SELECT no_such_column FROM customers",
			req:      DataRequest{UserQuery: "list customers", Limit: 10},
			wantKind: OutcomeExecutionFailure,
		},
		{
			name:     "nested data-modifying statement rejected",
			modelSQL: "SELECT * FROM customers WHERE customer_id IN (WITH d AS (DELETE FROM point_task RETURNING order_id) SELECT order_id FROM d)",
			req:      DataRequest{UserQuery: "list customers", Limit: 10},
			wantKind: OutcomeExecutionFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newDatabasePipeline(t, tt.cfg, tt.modelSQL)

			out := svc.Execute(context.Background(), tt.req)

			require.Equal(t, tt.wantKind, out.Kind, out.Reason)
			assert.Len(t, out.Rows, tt.wantRows)
			assert.Equal(t, tt.wantLength, out.DataLength)
		})
	}
}
