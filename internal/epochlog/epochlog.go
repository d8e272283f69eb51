// Package epochlog accumulates per-episode scalars and prints them as
// summary tables, one row of statistics per dump.
package epochlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"pickplace-eval/internal/logging"
)

var ErrNoValues = errors.New("no values stored for key")

const minKeyWidth = 15

type tabularOptions struct {
	withMinAndMax bool
	averageOnly   bool
}

type TabularOption func(*tabularOptions)

// WithMinAndMax adds Max<key> and Min<key> columns.
func WithMinAndMax() TabularOption {
	return func(o *tabularOptions) { o.withMinAndMax = true }
}

// AverageOnly drops the Std<key> column.
func AverageOnly() TabularOption {
	return func(o *tabularOptions) { o.averageOnly = true }
}

// Logger is not safe for concurrent use.
type Logger struct {
	out     io.Writer
	log     *logging.Logger
	stored  map[string][]float64
	headers []string
	row     map[string]float64
}

// New returns a Logger printing tables to out. log may be nil.
func New(out io.Writer, log *logging.Logger) *Logger {
	if log == nil {
		log = logging.NewNop()
	}
	return &Logger{
		out:    out,
		log:    log,
		stored: map[string][]float64{},
		row:    map[string]float64{},
	}
}

// Store appends values under key until the next LogTabular for that key.
func (l *Logger) Store(key string, values ...float64) {
	l.stored[key] = append(l.stored[key], values...)
}

// Stored returns a copy of the values currently held for key.
func (l *Logger) Stored(key string) []float64 {
	return append([]float64(nil), l.stored[key]...)
}

// LogValue sets a single column of the current row.
func (l *Logger) LogValue(key string, v float64) {
	l.set(key, v)
}

// LogTabular summarises the values stored under key into the current row
// as Average<key>, Std<key> and optionally Max<key>/Min<key>, then clears
// them.
func (l *Logger) LogTabular(key string, opts ...TabularOption) error {
	var o tabularOptions
	for _, opt := range opts {
		opt(&o)
	}

	values := l.stored[key]
	if len(values) == 0 {
		return fmt.Errorf("%w: %s", ErrNoValues, key)
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	l.set("Average"+key, mean)
	if !o.averageOnly {
		l.set("Std"+key, std)
	}
	if o.withMinAndMax {
		l.set("Max"+key, floats.Max(values))
		l.set("Min"+key, floats.Min(values))
	}
	delete(l.stored, key)
	return nil
}

func (l *Logger) set(key string, v float64) {
	if _, ok := l.row[key]; !ok {
		l.headers = append(l.headers, key)
	}
	l.row[key] = v
}

// DumpTabular prints the current row and starts a new one. The printed
// row is returned keyed by column.
func (l *Logger) DumpTabular(ctx context.Context) (map[string]float64, error) {
	width := minKeyWidth
	for _, h := range l.headers {
		if len(h) > width {
			width = len(h)
		}
	}
	dashes := strings.Repeat("-", width+22)

	var b strings.Builder
	b.WriteString(dashes + "\n")
	fields := make([]zap.Field, 0, len(l.headers))
	for _, h := range l.headers {
		fmt.Fprintf(&b, "| %*s | %15s |\n", width, h, fmt.Sprintf("%8.3g", l.row[h]))
		fields = append(fields, zap.Float64(h, l.row[h]))
	}
	b.WriteString(dashes + "\n")

	if _, err := io.WriteString(l.out, b.String()); err != nil {
		return nil, fmt.Errorf("write table: %w", err)
	}
	l.log.Info(ctx, "epoch summary", fields...)

	row := l.row
	l.row = map[string]float64{}
	l.headers = nil
	return row, nil
}
