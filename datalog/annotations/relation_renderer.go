package annotations

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// RelationRenderer pretty-prints relation shapes
type RelationRenderer struct {
	useColor bool
}

// NewRelationRenderer creates a new relation renderer
func NewRelationRenderer(useColor bool) *RelationRenderer {
	return &RelationRenderer{useColor: useColor}
}

// RenderRelation renders a relation's columns and size. A negative count
// omits the size.
func (r *RelationRenderer) RenderRelation(columns []string, tupleCount int) string {
	cols := strings.Join(columns, " ")
	if !r.useColor {
		if tupleCount >= 0 {
			return fmt.Sprintf("Relation([%s], %d Tuples)", cols, tupleCount)
		}
		return fmt.Sprintf("Relation([%s])", cols)
	}

	out := color.BlueString("Relation([") + color.CyanString(cols) + color.BlueString("]")
	if tupleCount >= 0 {
		out += color.BlueString(", ") + r.colorizeCount("Tuples", tupleCount)
	}
	return out + color.BlueString(")")
}

// colorizeCount colors a count by magnitude
func (r *RelationRenderer) colorizeCount(label string, count int) string {
	if !r.useColor {
		return fmt.Sprintf("%d %s", count, label)
	}
	n := fmt.Sprintf("%d", count)
	switch {
	case count == 0:
		n = color.RedString(n)
	case count < 100:
		n = color.GreenString(n)
	case count < 10000:
		n = color.YellowString(n)
	default:
		n = color.RedString(n)
	}
	return n + " " + label
}

// RenderQuery renders a query, indenting continuation lines
func (r *RelationRenderer) RenderQuery(queryStr string) []string {
	lines := strings.Split(queryStr, "\n")
	prefix := "Query: "
	if r.useColor {
		prefix = color.BlueString(prefix)
	}
	out := []string{prefix + lines[0]}
	for _, l := range lines[1:] {
		out = append(out, "       "+l)
	}
	return out
}
