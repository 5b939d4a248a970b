package prompts

import (
	"fmt"
	"strings"
)

// RefusalSentinel is the exact text the model is told to answer with when a
// request cannot be served by a single SELECT.
const RefusalSentinel = "ERROR"

// Payload is a compiled prompt ready for a chat completion call.
type Payload struct {
	System string
	User   string
}

// JoinHint tells the model how two tables relate when the schema text does not.
type JoinHint struct {
	LeftTable  string
	RightTable string
	Column     string
}

// DefaultJoinHint relates POINT_TASK and POINT_ORDER through ORDER_ID.
var DefaultJoinHint = JoinHint{LeftTable: "POINT_TASK", RightTable: "POINT_ORDER", Column: "ORDER_ID"}

// NLToSQLCompiler builds prompts that translate a question into one SELECT.
// It is pure and safe for concurrent use.
type NLToSQLCompiler struct {
	dialect   string
	joinHints []JoinHint
}

// NewNLToSQLCompiler creates a compiler for the given SQL dialect name.
// With no hints given, DefaultJoinHint is used.
func NewNLToSQLCompiler(dialect string, hints ...JoinHint) *NLToSQLCompiler {
	if strings.TrimSpace(dialect) == "" {
		dialect = "PostgreSQL"
	}
	if len(hints) == 0 {
		hints = []JoinHint{DefaultJoinHint}
	}
	return &NLToSQLCompiler{dialect: dialect, joinHints: hints}
}

// Compile returns the system rules and the user message for one question.
// An empty schemaContext still yields a valid payload.
func (c *NLToSQLCompiler) Compile(userQuery, schemaContext string) Payload {
	return Payload{
		System: c.systemMessage(),
		User:   c.userMessage(userQuery, schemaContext),
	}
}

func (c *NLToSQLCompiler) systemMessage() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a SQL query generation tool for %s enterprise databases.\n", c.dialect)
	b.WriteString("Your only function is to translate natural language requests into valid, efficient SQL SELECT statements.\n")
	b.WriteString("Follow these rules strictly and respond ONLY with the generated SQL query.\n\n")

	b.WriteString("## Mandatory Rules\n\n")

	b.WriteString("1. SELECT only\n")
	b.WriteString("   - Output exactly one SQL SELECT statement and nothing else.\n")
	fmt.Fprintf(&b, "   - Any request implying data modification (DML, DDL, TCL, DCL) must be answered with \"%s\".\n\n", RefusalSentinel)

	b.WriteString("2. Columns and tables\n")
	b.WriteString("   - If the user names columns, select only those columns.\n")
	b.WriteString("   - If the user asks for all columns, all data, or names no columns, use SELECT *.\n")
	fmt.Fprintf(&b, "   - If the user asks for all tables, answer \"%s\".\n", RefusalSentinel)
	fmt.Fprintf(&b, "   - If no tables exist, answer \"%s\".\n\n", RefusalSentinel)

	b.WriteString("3. Schema adherence\n")
	b.WriteString("   - Use only table and column names present in the schema.\n")
	fmt.Fprintf(&b, "   - If the user asks for a table or column that does not exist, answer \"%s\".\n\n", RefusalSentinel)

	b.WriteString("4. Columns in several tables\n")
	b.WriteString("   - If a requested column exists in more than one table, return a UNION ALL query selecting it from each table.\n")
	b.WriteString("   - Add a source_table column naming the table each row came from.\n\n")

	b.WriteString("5. Filtering\n")
	b.WriteString("   - Translate every WHERE condition exactly as stated.\n")
	b.WriteString("   - Handle date ranges, numeric comparisons and string matching (LIKE where appropriate) precisely.\n\n")

	b.WriteString("6. Aggregation and ordering\n")
	b.WriteString("   - COUNT is the only aggregation function you may use.\n")
	b.WriteString("   - Implement ORDER BY exactly as requested. Default to ASC when no order is given.\n\n")

	b.WriteString("7. No pagination\n")
	b.WriteString("   - Never include LIMIT, OFFSET, or FETCH NEXT ... ROWS ONLY.\n")
	fmt.Fprintf(&b, "   - If the user asks for any form of pagination, answer \"%s\".\n\n", RefusalSentinel)

	b.WriteString("8. No additional text\n")
	b.WriteString("   - Output only the SQL statement. No explanations, comments, or markdown.\n\n")

	b.WriteString("9. Assume correct grammar\n")
	b.WriteString("   - The request may use synonyms or unusual phrasing but is grammatically correct.\n\n")

	b.WriteString("## Process\n\n")
	b.WriteString("1. Identify the target tables, desired columns, filters, aggregation and sorting.\n")
	b.WriteString("2. Build one valid SELECT statement that satisfies all of them.\n")
	b.WriteString("3. Use UNION ALL with a source_table column for columns found in several tables.\n")
	b.WriteString("4. Use a JOIN when the user asks for data from related tables.\n")
	fmt.Fprintf(&b, "5. If any rule is violated, output \"%s\".\n", RefusalSentinel)

	if len(c.joinHints) > 0 {
		b.WriteString("\n## Known Relationships\n\n")
		for _, h := range c.joinHints {
			fmt.Fprintf(&b, "- %s.%s and %s.%s hold the same value. Join them like this: SELECT * FROM %s INNER JOIN %s ON %s.%s = %s.%s\n",
				h.LeftTable, h.Column, h.RightTable, h.Column,
				h.LeftTable, h.RightTable, h.LeftTable, h.Column, h.RightTable, h.Column)
		}
	}

	return b.String()
}

func (c *NLToSQLCompiler) userMessage(userQuery, schemaContext string) string {
	var b strings.Builder

	b.WriteString("## Schema\n\n")
	if strings.TrimSpace(schemaContext) == "" {
		b.WriteString("(no schema information was retrieved)\n")
	} else {
		b.WriteString(schemaContext)
		b.WriteString("\n")
	}

	b.WriteString("\n## Natural Language Query\n\n")
	b.WriteString(userQuery)
	b.WriteString("\n\nGenerated SQL:")

	return b.String()
}
