package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/audit"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/datasource"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/guard"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/metrics"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/sql"
)

// ForbiddenChecker screens the raw question before anything else runs.
type ForbiddenChecker interface {
	Check(text string) (guard.Match, bool)
}

// SchemaRetriever returns schema context for a question, or "" when none was found.
type SchemaRetriever interface {
	Retrieve(ctx context.Context, query string) string
}

// PromptCompiler builds the model prompt.
type PromptCompiler interface {
	Compile(userQuery, schemaContext string) prompts.Payload
}

// QueryShaper adds pagination and names the table to count.
type QueryShaper interface {
	Shape(sqlQuery string, offset, limit int) (string, string)
}

// SecurityRecorder receives security-relevant rejections.
type SecurityRecorder interface {
	LogRejection(ctx context.Context, details audit.RejectionDetails)
	LogUnsafeGeneratedSQL(ctx context.Context, details audit.GeneratedSQLDetails)
}

// NLQueryConfig holds the pipeline switches.
type NLQueryConfig struct {
	// RequireContext ends the request with RetrievalDegraded when retrieval
	// finds nothing, instead of translating without schema context.
	RequireContext bool
	// SkipCountForJoins reports the page length as data_length for statements
	// that read from more than one table.
	SkipCountForJoins bool
}

// NLQueryService answers natural-language data requests:
// filter, retrieve, compile, translate, validate, shape, execute.
type NLQueryService struct {
	filter     ForbiddenChecker
	retriever  SchemaRetriever
	compiler   PromptCompiler
	translator Translator
	shaper     QueryShaper
	executor   datasource.Executor
	auditor    SecurityRecorder
	cfg        NLQueryConfig
	logger     *zap.Logger
}

// NewNLQueryService wires the pipeline stages. auditor may be nil.
func NewNLQueryService(
	filter ForbiddenChecker,
	retriever SchemaRetriever,
	compiler PromptCompiler,
	translator Translator,
	shaper QueryShaper,
	executor datasource.Executor,
	auditor SecurityRecorder,
	cfg NLQueryConfig,
	logger *zap.Logger,
) *NLQueryService {
	return &NLQueryService{
		filter:     filter,
		retriever:  retriever,
		compiler:   compiler,
		translator: translator,
		shaper:     shaper,
		executor:   executor,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logger.Named("nl-query"),
	}
}

// Execute runs one request through the pipeline. It always returns an Outcome;
// a panic in any stage becomes ExecutionFailure.
func (s *NLQueryService) Execute(ctx context.Context, req DataRequest) (out Outcome) {
	logger := logging.WithContext(ctx, s.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in data request pipeline",
				zap.Any("panic", r),
				zap.Stack("stack"))
			out = failure(OutcomeExecutionFailure)
		}
		metrics.PipelineOutcomes.WithLabelValues(string(out.Kind)).Inc()
		logger.Info("Data request finished",
			zap.String("outcome", string(out.Kind)),
			zap.Int64("data_length", out.DataLength),
			zap.Duration("duration", time.Since(start)))
	}()

	query := strings.TrimSpace(req.UserQuery)
	logger.Info("Received data request",
		zap.String("query", logging.SanitizeUserText(query)),
		zap.Int("offset", req.Offset),
		zap.Int("limit", req.Limit))

	if query == "" {
		return failure(OutcomeTranslationInvalid)
	}

	stageStart := time.Now()
	match, forbidden := s.filter.Check(query)
	metrics.ObserveStage("filter", stageStart)
	if forbidden {
		if s.auditor != nil {
			s.auditor.LogRejection(ctx, audit.RejectionDetails{
				Question:    query,
				Phrase:      match.Phrase,
				Fingerprint: match.Fingerprint,
			})
		}
		return failure(OutcomePolicyRejection)
	}

	stageStart = time.Now()
	schemaContext := s.retriever.Retrieve(ctx, query)
	metrics.ObserveStage("retrieve", stageStart)
	if schemaContext == "" && s.cfg.RequireContext {
		return failure(OutcomeRetrievalDegraded)
	}

	payload := s.compiler.Compile(query, schemaContext)

	raw, err := s.translator.Invoke(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrTranslationUnavailable) {
			return failure(OutcomeTranslationUnavailable)
		}
		logger.Error("SQL generation failed", zap.String("error", logging.SanitizeError(err)))
		return failure(OutcomeTranslationError)
	}

	generated, err := sql.ValidateGenerated(raw)
	if err != nil {
		logger.Warn("Model output rejected",
			zap.String("reason", err.Error()),
			zap.String("output", logging.SanitizeQuery(raw)))
		if s.auditor != nil && !errors.Is(err, sql.ErrRefusal) {
			s.auditor.LogUnsafeGeneratedSQL(ctx, audit.GeneratedSQLDetails{
				Question: query,
				Output:   raw,
				Reason:   err.Error(),
			})
		}
		return failure(OutcomeTranslationInvalid)
	}
	logger.Info("Generated SQL", zap.String("sql", logging.SanitizeQuery(generated)))

	shaped, table := s.shaper.Shape(generated, req.Offset, req.Limit)

	out, err = s.run(ctx, shaped, table)
	if err != nil {
		logger.Error("Query execution failed",
			zap.String("sql", logging.SanitizeQuery(shaped)),
			zap.String("error", logging.SanitizeError(err)))
		out = failure(OutcomeExecutionFailure)
	}
	out.SQL = generated
	out.ShapedSQL = shaped
	out.Table = table
	return out
}

// run executes the shaped statement and the total count.
func (s *NLQueryService) run(ctx context.Context, shaped, table string) (Outcome, error) {
	stageStart := time.Now()
	result, err := s.executor.Query(ctx, shaped)
	metrics.ObserveStage("execute", stageStart)
	if err != nil {
		return Outcome{}, err
	}

	if result.RowCount == 0 {
		return failure(OutcomeNoData), nil
	}

	dataLength, err := s.dataLength(ctx, shaped, table, result)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Kind:       OutcomeSuccess,
		Rows:       result.Rows,
		DataLength: dataLength,
	}, nil
}

// dataLength is SELECT COUNT(*) over the first FROM table. Without a table,
// or for multi-table statements when SkipCountForJoins is set, it falls back
// to the number of rows in the page.
func (s *NLQueryService) dataLength(ctx context.Context, shaped, table string, result *datasource.QueryResult) (int64, error) {
	if table == "" || (s.cfg.SkipCountForJoins && sql.IsMultiTable(shaped)) {
		return int64(result.RowCount), nil
	}

	stageStart := time.Now()
	n, err := s.executor.Count(ctx, table)
	metrics.ObserveStage("count", stageStart)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
