package commands

import (
	"fmt"

	"github.com/greeddj/go-plugctl/internal/plugctl/txn"
)

// report prints a finished transaction: warnings first, then the status line.
func (s *session) report(v any, res txn.Result, okVerb string, summary fmt.Stringer) error {
	if !s.cfg.JSON {
		for _, m := range res.Messages {
			if m.Level == txn.LevelWarn {
				s.p.Warnf("%s: %s", m.Step, m.Message)
			}
		}
	}
	if res.Success {
		return s.emit(v, true, fmt.Sprintf("✅ %s: %s", okVerb, summary))
	}
	line := fmt.Sprintf("❌ Failed: %s", summary)
	if res.Error != nil {
		line += ": " + res.Error.Message
		for _, key := range res.Error.DetailKeys() {
			line += fmt.Sprintf(" [%s=%v]", key, res.Error.Details[key])
		}
	}
	return s.emit(v, false, line)
}
