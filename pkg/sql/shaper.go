package sql

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed aggregates.yaml
var defaultAggregatesYAML []byte

// DefaultMaxLimit caps the page size when none is configured.
const DefaultMaxLimit = 10

var (
	tableNamePattern = regexp.MustCompile(`(?i)FROM\s+([a-zA-Z0-9_]+)`)
	joinPattern      = regexp.MustCompile(`(?i)\b(JOIN|UNION)\b`)
	// FROM a, b  /  FROM a x, b  /  FROM a AS x, b
	commaFromPattern = regexp.MustCompile(`(?i)\bFROM\s+[a-zA-Z0-9_.]+(\s+(AS\s+)?[a-zA-Z0-9_]+)?\s*,`)
	identPattern     = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

type aggregateFile struct {
	Keywords []string `yaml:"aggregate_keywords"`
}

// LoadAggregateKeywords reads the aggregate keyword list from path, or the
// built-in list when path is empty. Keywords are uppercased.
func LoadAggregateKeywords(path string) ([]string, error) {
	data := defaultAggregatesYAML
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read aggregate keywords file: %w", err)
		}
		data = fileData
	}

	var f aggregateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse aggregate keywords file: %w", err)
	}

	keywords := make([]string, 0, len(f.Keywords))
	for _, k := range f.Keywords {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return nil, fmt.Errorf("aggregate keywords file %q is empty", path)
	}
	return keywords, nil
}

// Shaper appends pagination to generated statements that are not aggregates.
type Shaper struct {
	maxLimit   int
	aggregates []string
}

// NewShaper creates a Shaper. maxLimit must be positive.
func NewShaper(maxLimit int, aggregates []string) (*Shaper, error) {
	if maxLimit <= 0 {
		return nil, fmt.Errorf("max limit must be positive, got %d", maxLimit)
	}
	if len(aggregates) == 0 {
		return nil, fmt.Errorf("aggregate keyword list is empty")
	}
	upper := make([]string, len(aggregates))
	for i, k := range aggregates {
		upper[i] = strings.ToUpper(k)
	}
	return &Shaper{maxLimit: maxLimit, aggregates: upper}, nil
}

// MaxLimit returns the page size cap.
func (s *Shaper) MaxLimit() int {
	return s.maxLimit
}

// IsAggregate reports whether any aggregate keyword occurs in the statement.
// This is a plain substring test, so a column named "total_amount" counts too.
func (s *Shaper) IsAggregate(sqlQuery string) bool {
	upper := strings.ToUpper(sqlQuery)
	for _, k := range s.aggregates {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// Shape returns the statement to execute and the table its total count should
// be taken from. Aggregates are returned unchanged; everything else gets exactly
// one LIMIT/OFFSET clause with the limit capped at MaxLimit.
func (s *Shaper) Shape(sqlQuery string, offset, limit int) (string, string) {
	table := ExtractTableName(sqlQuery)

	if s.IsAggregate(sqlQuery) {
		return sqlQuery, table
	}

	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	limit = min(limit, s.maxLimit)

	return fmt.Sprintf("%s LIMIT %d OFFSET %d", sqlQuery, limit, offset), table
}

// ExtractTableName returns the first identifier after FROM, or "" if there is none.
func ExtractTableName(sqlQuery string) string {
	m := tableNamePattern.FindStringSubmatch(sqlQuery)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// IsMultiTable reports whether the statement reads from more than one table
// (JOIN, UNION or a comma-separated FROM list).
func IsMultiTable(sqlQuery string) bool {
	return joinPattern.MatchString(sqlQuery) || commaFromPattern.MatchString(sqlQuery)
}

// CountQuery builds the total-count statement for a table name returned by
// ExtractTableName.
func CountQuery(table string) (string, error) {
	if !identPattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return "SELECT COUNT(*) FROM " + table, nil
}
