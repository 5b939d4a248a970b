// Package sql cleans model-generated SQL and shapes it for paginated execution.
package sql

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrRefusal indicates the model answered with the ERROR sentinel instead of SQL.
	ErrRefusal = errors.New("model refused to generate SQL")
	// ErrNotSelect indicates the cleaned output does not start with SELECT.
	ErrNotSelect = errors.New("generated SQL is not a SELECT statement")
)

// fenceNoise matches backticks and the "sql" tag models put on code fences.
// Every occurrence is removed, including inside identifiers.
var fenceNoise = regexp.MustCompile("(?i)`|sql")

// Clean strips code-fence noise, surrounding whitespace and one trailing semicolon.
// Cleaning an already clean statement returns it unchanged.
func Clean(raw string) string {
	cleaned := raw
	// Removal can splice a new "sql" together ("ssqlql"), so repeat until stable.
	for fenceNoise.MatchString(cleaned) {
		cleaned = fenceNoise.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	return stripTrailingSemicolon(cleaned)
}

// ValidateGenerated cleans raw model output and returns the statement when it is
// a single SELECT. The returned error says which check failed.
//
// The checks run in this order:
// 1. Clean (backticks, "sql" tokens, whitespace, trailing semicolon)
// 2. Reject the ERROR sentinel anywhere in the text
// 3. Require a leading SELECT
// 4. Reject any semicolon left outside string literals
func ValidateGenerated(raw string) (string, error) {
	cleaned := Clean(raw)

	if strings.Contains(strings.ToUpper(cleaned), "ERROR") {
		return "", ErrRefusal
	}
	if !strings.HasPrefix(strings.ToLower(cleaned), "select") {
		return "", ErrNotSelect
	}
	if hasSemicolonOutsideStrings(cleaned) {
		return "", ErrMultipleStatements
	}
	return cleaned, nil
}

// CleanAndValidate is ValidateGenerated reduced to an ok flag.
func CleanAndValidate(raw string) (string, bool) {
	cleaned, err := ValidateGenerated(raw)
	if err != nil {
		return "", false
	}
	return cleaned, true
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// A doubled quote ('') exits and immediately re-enters the literal.
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes one trailing semicolon and the whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
