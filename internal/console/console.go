// Package console renders the current view as a terminal status line.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"

	"sensormon/internal/ingest"
	"sensormon/internal/telemetry"
)

const defaultWidth = 80

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Renderer writes views to w. On a terminal it redraws a single line in
// place with a sparkline of recent values; otherwise it prints one line per
// new sample so the output stays readable in logs.
type Renderer struct {
	w     io.Writer
	tty   bool
	width int

	mu   sync.Mutex
	last string
}

// New creates a Renderer for w. fd is the file descriptor behind w, used to
// detect a terminal and its width; pass -1 when w is not a file.
func New(w io.Writer, fd int) *Renderer {
	r := &Renderer{w: w, width: defaultWidth}
	if fd >= 0 && term.IsTerminal(fd) {
		r.tty = true
		if width, _, err := term.GetSize(fd); err == nil && width > 0 {
			r.width = width
		}
	}
	return r
}

// Render draws v. In non-terminal mode a view identical to the previous
// one is skipped.
func (r *Renderer) Render(v ingest.View, st ingest.State) error {
	line := Line(v, st)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tty {
		if line == r.last {
			return nil
		}
		r.last = line
		_, err := fmt.Fprintln(r.w, line)
		return err
	}

	spark := Sparkline(v.Samples, telemetry.MetaFor(v.Signal), r.width-len([]rune(line))-3)
	out := line
	if spark != "" {
		out += " | " + spark
	}
	out = truncate(out, r.width)
	r.last = line
	_, err := fmt.Fprintf(r.w, "\r\x1b[2K%s", out)
	return err
}

// Finish ends an in-place line so later output starts on a fresh line.
func (r *Renderer) Finish() error {
	if !r.tty {
		return nil
	}
	_, err := fmt.Fprintln(r.w)
	return err
}

// Line formats the textual part of a view.
func Line(v ingest.View, st ingest.State) string {
	status := "stopped"
	if st.Running {
		status = "running"
	}
	latest, ok := v.Latest()
	if !ok {
		return fmt.Sprintf("%s | waiting for data... | %s", v.Title, status)
	}
	return fmt.Sprintf("%s | %s: %d | %d samples | %s",
		v.Title, v.UnitLabel, latest.Value, len(v.Samples), status)
}

// Sparkline renders the most recent samples that fit in width, scaled to
// the signal's nominal range. Values outside the range are clamped.
func Sparkline(samples []telemetry.Sample, meta telemetry.Meta, width int) string {
	if width <= 0 || len(samples) == 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	span := meta.Max - meta.Min
	if span <= 0 {
		span = 1
	}

	var b strings.Builder
	top := len(sparkRunes) - 1
	for _, s := range samples {
		idx := int((s.Value - meta.Min) * int64(top) / span)
		idx = max(0, min(top, idx))
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func truncate(s string, width int) string {
	rs := []rune(s)
	if width <= 0 || len(rs) <= width {
		return s
	}
	return string(rs[:width])
}
