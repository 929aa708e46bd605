package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// consoleTimeLayout is local wall-clock time; the JSON handler writes UTC.
const consoleTimeLayout = "2006-01-02 15:04:05"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(consoleTimeLayout)
}

// attrString renders v without quoting, for the line prefix.
func attrString(v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return rawValue(v)
}

// formatValue renders v for a key=value pair, quoting when the text would
// otherwise be ambiguous.
func formatValue(v slog.Value) string {
	v = v.Resolve()
	text := rawValue(v)
	switch v.Kind() {
	case slog.KindString, slog.KindAny:
		if needsQuotes(text) {
			return strconv.Quote(text)
		}
	}
	return text
}

func rawValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case []string:
			return strings.Join(x, ",")
		default:
			return fmt.Sprint(x)
		}
	default:
		// bool, ints, durations and groups format the same way slog does
		return v.String()
	}
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' })
}
