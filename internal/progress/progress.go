package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

const (
	spinnerDelay   = 100 * time.Millisecond
	spinnerCharSet = 14
	spinnerColor   = "green"
	ansiRed        = "\x1b[31m"
	ansiGreen      = "\x1b[32m"
	ansiYellow     = "\x1b[33m"
	ansiReset      = "\x1b[0m"
)

// Progress renders CLI progress output with optional spinner.
type Progress struct {
	mu sync.Mutex
	v  bool
	q  bool
	w  io.Writer
	s  *spinner.Spinner
}

// New creates a Progress printer writing to w, configured for verbose/quiet output.
// The spinner runs only in the default mode.
func New(w io.Writer, verbose, quiet bool) *Progress {
	p := &Progress{v: verbose, q: quiet, w: w}
	if quiet || verbose {
		return p
	}
	spin := spinner.New(spinner.CharSets[spinnerCharSet], spinnerDelay, spinner.WithWriter(w))
	_ = spin.Color(spinnerColor)
	p.s = spin
	p.s.Start()
	return p
}

// Printf updates the spinner line or prints a log line.
func (p *Progress) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.s != nil && !p.v {
		p.s.Suffix = fmt.Sprintf(" "+format, args...)
	}
	if p.v {
		fmt.Fprintf(p.w, format+"\n", args...)
	}
}

// PersistentPrintf prints a persistent line that survives spinner updates.
// Quiet mode drops it.
func (p *Progress) PersistentPrintf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(fmt.Sprintf(format, args...))
}

func (p *Progress) line(message string) {
	switch {
	case p.s != nil && !p.v:
		p.s.Stop()
		fmt.Fprintln(p.w, message)
		p.s.Restart()
	case p.v:
		fmt.Fprintln(p.w, message)
	}
}

// Okf prints a success message with a colored marker.
func (p *Progress) Okf(format string, args ...any) {
	p.PersistentPrintf("%s✔%s "+format, append([]any{ansiGreen, ansiReset}, args...)...)
}

// Warnf prints a warning with a colored marker.
func (p *Progress) Warnf(format string, args ...any) {
	p.PersistentPrintf("%s!%s "+format, append([]any{ansiYellow, ansiReset}, args...)...)
}

// Errorf prints an error message with a colored marker. Errors are shown even in quiet mode.
func (p *Progress) Errorf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	message := fmt.Sprintf("%s✗%s "+format, append([]any{ansiRed, ansiReset}, args...)...)
	if p.q {
		fmt.Fprintln(p.w, message)
		return
	}
	p.line(message)
}

// Debugf prints a debug message when verbose mode is enabled.
func (p *Progress) Debugf(format string, args ...any) {
	if p.v {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.w, "🚧 Debug: "+format+"\n", args...)
	}
}

// DebugSincef prints a debug message with timing info.
func (p *Progress) DebugSincef(start time.Time, format string, args ...any) {
	if p.v {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.w, "⏱️ Debug Timing ("+time.Since(start).Round(time.Millisecond).String()+"): "+format+"\n", args...)
	}
}

// Write implements io.Writer for log output integration.
func (p *Progress) Write(payload []byte) (int, error) {
	message := strings.TrimRight(string(payload), "\n")
	if message == "" {
		return len(payload), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(message)
	return len(payload), nil
}

// Close stops the spinner if it is running.
func (p *Progress) Close() {
	if p.s != nil {
		p.s.Stop()
	}
}
