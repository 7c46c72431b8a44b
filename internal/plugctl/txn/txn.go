// Package txn carries the per-transaction message log and the structured result every orchestrator returns.
package txn

import (
	"fmt"
	"sync"
	"time"

	"github.com/greeddj/go-plugctl/internal/plugctl/output"
)

// Phase names a step of an orchestrated operation.
type Phase string

const (
	PhaseValidate       Phase = "VALIDATE"
	PhaseStage          Phase = "STAGE"
	PhaseExtract        Phase = "EXTRACT"
	PhaseLifecyclePre   Phase = "LIFECYCLE_PRE"
	PhaseLifecycle      Phase = "LIFECYCLE"
	PhasePromote        Phase = "PROMOTE"
	PhaseActivate       Phase = "ACTIVATE"
	PhaseTelemetry      Phase = "TELEMETRY"
	PhaseDeactivate     Phase = "DEACTIVATE"
	PhaseRegistryUpdate Phase = "REGISTRY_UPDATE"
	PhaseCacheCleanup   Phase = "CACHE_CLEANUP"
	PhaseRetrieve       Phase = "RETRIEVE"
	PhaseAudit          Phase = "AUDIT"
)

// Level is the severity of a logged message.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Message is one entry of a transaction log.
type Message struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Step    Phase     `json:"step"`
	At      time.Time `json:"at"`
}

// Log collects messages for one transaction. It is safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	id   string
	now  func() time.Time
	out  output.Printer
	msgs []Message
}

// NewLog creates a message log for the transaction id.
func NewLog(id string, now func() time.Time, out output.Printer) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{id: id, now: now, out: output.OrDiscard(out)}
}

// ID returns the transaction id.
func (l *Log) ID() string {
	return l.id
}

// Infof records an informational message.
func (l *Log) Infof(step Phase, format string, args ...any) {
	l.add(LevelInfo, step, format, args...)
}

// Warnf records a warning.
func (l *Log) Warnf(step Phase, format string, args ...any) {
	l.add(LevelWarn, step, format, args...)
}

// Errorf records an error message.
func (l *Log) Errorf(step Phase, format string, args ...any) {
	l.add(LevelError, step, format, args...)
}

func (l *Log) add(level Level, step Phase, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	l.msgs = append(l.msgs, Message{Level: level, Message: msg, Step: step, At: l.now().UTC()})
	l.mu.Unlock()
	l.out.Debugf("[%s] %s %s: %s", l.id, step, level, msg)
}

// Messages returns a copy of the recorded messages in order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// LastStep returns the step of the most recent message.
func (l *Log) LastStep() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) == 0 {
		return ""
	}
	return l.msgs[len(l.msgs)-1].Step
}

// Result is the envelope shared by every orchestrator result.
type Result struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transactionId"`
	Error         *Error    `json:"error,omitempty"`
	Messages      []Message `json:"messages"`
	StartedAt     time.Time `json:"startedAt"`
	Duration      string    `json:"duration"`
}

// Finish fills the envelope from the log. A nil err marks the result successful.
func (l *Log) Finish(started time.Time, err *Error) Result {
	return Result{
		Success:       err == nil,
		TransactionID: l.id,
		Error:         err,
		Messages:      l.Messages(),
		StartedAt:     started.UTC(),
		Duration:      l.now().Sub(started).Round(time.Millisecond).String(),
	}
}
