// Package output defines how engine packages report progress.
package output

import "time"

// Printer defines the progress output interface.
type Printer interface {
	Printf(format string, args ...any)
	PersistentPrintf(format string, args ...any)
	Debugf(format string, args ...any)
	DebugSincef(startTime time.Time, format string, args ...any)
}

// Discard is a Printer that drops everything. Stores default to it.
//
//nolint:gochecknoglobals
var Discard Printer = discard{}

type discard struct{}

func (discard) Printf(string, ...any)                 {}
func (discard) PersistentPrintf(string, ...any)       {}
func (discard) Debugf(string, ...any)                 {}
func (discard) DebugSincef(time.Time, string, ...any) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Printer) Printer {
	if p == nil {
		return Discard
	}
	return p
}
