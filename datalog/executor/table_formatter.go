package executor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/wbrown/janus-factdb/datalog"
)

// TableFormatter renders query results as markdown tables
type TableFormatter struct {
	// MaxWidth is the maximum width of a cell; 0 disables truncation
	MaxWidth int
	// TruncateString is appended to truncated cells
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatRelation formats a relation of bindings as a markdown table
func (tf *TableFormatter) FormatRelation(rel *Relation) string {
	if rel == nil || len(rel.Columns) == 0 {
		return "_Empty relation_"
	}
	columns := make([]string, len(rel.Columns))
	for i, c := range rel.Columns {
		columns[i] = c.String()
	}
	rows := make([][]interface{}, len(rel.Tuples))
	for i, t := range rel.Tuples {
		rows[i] = t
	}
	return tf.FormatRows(columns, rows)
}

// FormatRows formats result rows under the given headers
func (tf *TableFormatter) FormatRows(columns []string, rows [][]interface{}) string {
	if len(rows) == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_", columns)
	}

	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, tuple := range rows {
		row := make([]string, len(tuple))
		for j, val := range tuple {
			row[j] = tf.truncate(tf.formatValue(val))
		}
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(tableString, "\n_%d rows_\n", len(rows))
	return tableString.String()
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= tf.MaxWidth {
		return s
	}
	keep := tf.MaxWidth - len([]rune(tf.TruncateString))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + tf.TruncateString
}

// formatValue converts a value to its cell text. Strings are shown bare,
// pulled entities and collections in EDN notation.
func (tf *TableFormatter) formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return "nil"
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.2f", v)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	}
	return ednString(val)
}

func ednString(val interface{}) string {
	switch v := val.(type) {
	case map[datalog.Keyword]interface{}:
		keys := make([]datalog.Keyword, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.String() + " " + ednString(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = ednString(item)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return datalog.FormatValue(val)
}

// PrintRelation prints a relation to stdout
func PrintRelation(rel *Relation) {
	fmt.Println(NewTableFormatter().FormatRelation(rel))
}

// PrintResult prints a query result to stdout
func PrintResult(res *Result) {
	fmt.Println(res.Table())
}

// RelationString returns a relation rendered as a table
func RelationString(rel *Relation) string {
	return NewTableFormatter().FormatRelation(rel)
}
