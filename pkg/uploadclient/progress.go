package uploadclient

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	progressBarWidth     = 32
	progressRenderPeriod = 120 * time.Millisecond
)

// ProgressPrinter рисует ASCII-индикаторы выполнения по событиям Progress.
// In line mode every render is a new line, which keeps concurrent files readable.
type ProgressPrinter struct {
	out      io.Writer
	lineMode bool

	mu            sync.Mutex
	lastRender    map[string]time.Time
	lastLineWidth int
}

func NewProgressPrinter(out io.Writer, lineMode bool) *ProgressPrinter {
	return &ProgressPrinter{out: out, lineMode: lineMode, lastRender: map[string]time.Time{}}
}

// Report is an Options.OnProgress callback.
func (p *ProgressPrinter) Report(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	final := pr.Status == StatusSuccess || pr.Status == StatusFailed || pr.Status == StatusCancelled
	now := time.Now()
	if !final && now.Sub(p.lastRender[pr.File]) < progressRenderPeriod && pr.UploadedChunks < pr.TotalChunks {
		return
	}
	p.lastRender[pr.File] = now

	line := progressLine(pr)
	switch {
	case p.lineMode:
		fmt.Fprintln(p.out, line)
	case final:
		fmt.Fprintf(p.out, "\r%s%s\n", line, p.padding(line))
		p.lastLineWidth = 0
	default:
		fmt.Fprintf(p.out, "\r%s%s", line, p.padding(line))
		p.lastLineWidth = len(line)
	}
	if final {
		delete(p.lastRender, pr.File)
	}
}

func (p *ProgressPrinter) padding(line string) string {
	if p.lastLineWidth > len(line) {
		return strings.Repeat(" ", p.lastLineWidth-len(line))
	}
	return ""
}

func progressLine(pr Progress) string {
	var builder strings.Builder
	builder.Grow(len(pr.File) + 64)
	builder.WriteString(pr.File)
	builder.WriteByte(' ')

	filled := pr.Percent * progressBarWidth / 100
	filled = min(max(filled, 0), progressBarWidth)
	builder.WriteByte('[')
	builder.WriteString(strings.Repeat("=", filled))
	builder.WriteString(strings.Repeat(" ", progressBarWidth-filled))
	builder.WriteString("] ")
	builder.WriteString(fmt.Sprintf("%3d%% %d/%d", pr.Percent, pr.UploadedChunks, pr.TotalChunks))

	switch pr.Status {
	case StatusSuccess:
		builder.WriteString(" ✓")
	case StatusFailed:
		builder.WriteString(" ✗")
	case StatusCancelled:
		builder.WriteString(" cancelled")
	}
	return builder.String()
}

// HumanBytes formats a byte count with binary units.
func HumanBytes(v int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	value := float64(v)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", v, units[unit])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}
