package annotations

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
	renderer *RelationRenderer
}

// NewOutputFormatter creates a formatter, enabling colour when w is a
// terminal.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stdout
	}
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f) && !color.NoColor
	}
	return &OutputFormatter{useColor: useColor, writer: w, renderer: NewRelationRenderer(useColor)}
}

// Handle prints events as they occur
func (f *OutputFormatter) Handle(event Event) {
	if out := f.Format(event); out != "" {
		fmt.Fprintln(f.writer, out)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case QueryBegin:
		return strings.Join(f.renderer.RenderQuery(truncateQuery(str(d["query"]))), "\n")

	case QueryPlanned:
		return fmt.Sprintf("%s %s %d clauses planned", latency, f.colorize("===", color.FgYellow), num(d["clauses"]))

	case ClauseEvaluate:
		in, out := num(d["tuples.in"]), num(d["tuples.out"])
		return fmt.Sprintf("%s %s %s → %s", latency, str(d["clause"]),
			f.colorizeCount("Tuples", in), f.colorizeCount("Tuples", out))

	case OrBranches:
		return fmt.Sprintf("%s or with %d branches (parallel=%v) → %s",
			latency, num(d["branches"]), d["parallel"], f.colorizeCount("Tuples", num(d["tuples.out"])))

	case RuleFixpoint:
		return fmt.Sprintf("%s rule %s reached fixpoint after %d iterations with %s",
			latency, str(d["rule"]), num(d["iterations"]), f.colorizeCount("Tuples", num(d["tuples.out"])))

	case Aggregated:
		return fmt.Sprintf("%s aggregated %s into %d groups",
			latency, f.colorizeCount("Tuples", num(d["tuples.in"])), num(d["groups"]))

	case IndexScan:
		return fmt.Sprintf("%s scan %s %s", latency, str(d["index"]), f.colorizeCount("Datoms", num(d["datoms"])))

	case QueryComplete:
		if err, ok := d["error"]; ok && err != nil {
			return fmt.Sprintf("%s %s Query failed: %v", latency, f.colorize("✗", color.FgRed), err)
		}
		return fmt.Sprintf("%s %s Query done with %s.", latency,
			f.colorize("===", color.FgGreen), f.colorizeCount("Tuples", num(d["tuples.count"])))

	case TxReceived, TxValidated, TxResolved, TxApplied:
		return fmt.Sprintf("%s %s %s", latency, f.colorize(event.Name, color.FgCyan), kv(d))

	case TxCommitted:
		return fmt.Sprintf("%s %s t=%d with %s", latency, f.colorize(event.Name, color.FgGreen),
			num(d["t"]), f.colorizeCount("Datoms", num(d["datoms"])))

	case TxRejected:
		return fmt.Sprintf("%s %s %v", latency, f.colorize(event.Name, color.FgRed), d["error"])

	case ReportDropped:
		return fmt.Sprintf("%s %s t=%d", latency, f.colorize(event.Name, color.FgRed), num(d["t"]))

	default:
		return fmt.Sprintf("%s %s %s", latency, event.Name, kv(d))
	}
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}
	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}
	switch strings.ToLower(label) {
	case "tuples":
		return color.MagentaString(text)
	case "datoms":
		return color.BlueString(text)
	default:
		return text
	}
}

func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// truncateQuery shortens long queries for display.
func truncateQuery(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	const maxLen = 80
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen-3] + "..."
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func num(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func kv(d map[string]interface{}) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, d[k])
	}
	return strings.Join(parts, " ")
}

// ConsoleHandler returns a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}

// isTerminal reports whether f is a character device
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
