package txn

import (
	stderrors "errors"
	"fmt"
	"sort"

	errs "github.com/jmgilman/go/errors"
)

// Stable error codes returned at the orchestrator boundary.
const (
	CodeInstallExists     errs.ErrorCode = "ERR-INSTALL-001"
	CodeInstallStage      errs.ErrorCode = "ERR-INSTALL-002"
	CodeInstallPromote    errs.ErrorCode = "ERR-INSTALL-003"
	CodeInstallActivate   errs.ErrorCode = "ERR-INSTALL-004"
	CodeInstallManifest   errs.ErrorCode = "ERR-INSTALL-005"
	CodeInstallBlocked    errs.ErrorCode = "ERR-INSTALL-006"
	CodeInstallPreinstall errs.ErrorCode = "ERR-INSTALL-007"
	CodeInstallInvalid    errs.ErrorCode = "ERR-INSTALL-008"
	CodeInstallUnexpected errs.ErrorCode = "ERR-INSTALL-999"

	CodeRollbackNotInstalled errs.ErrorCode = "ERR-ROLLBACK-001"
	CodeRollbackNoTarget     errs.ErrorCode = "ERR-ROLLBACK-002"
	CodeRollbackActivate     errs.ErrorCode = "ERR-ROLLBACK-003"
	CodeRollbackSameVersion  errs.ErrorCode = "ERR-ROLLBACK-004"
	CodeRollbackUnexpected   errs.ErrorCode = "ERR-ROLLBACK-999"

	CodeCacheNotRetrievable errs.ErrorCode = "ERR-CACHE-001"

	CodeUninstallNotInstalled errs.ErrorCode = "ERR-UNINSTALL-001"
	CodeUninstallConfirm      errs.ErrorCode = "ERR-UNINSTALL-CONFIRM"
	CodeUninstallConsent      errs.ErrorCode = "ERR-UNINSTALL-CONSENT"
	CodeUninstallManifest     errs.ErrorCode = "ERR-UNINSTALL-002"
	CodeUninstallDeactivate   errs.ErrorCode = "ERR-UNINSTALL-003"
	CodeUninstallRegistry     errs.ErrorCode = "ERR-UNINSTALL-004"
	CodeUninstallUnexpected   errs.ErrorCode = "ERR-UNINSTALL-999"

	CodeVerifyNotInstalled errs.ErrorCode = "ERR-VERIFY-001"
)

const failedStepKey = "failedStep"

// Error is the structured failure carried in a Result.
type Error struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	FailedStep Phase          `json:"failedStep"`
	Details    map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fail attaches a stable code and the failing step to err. A nil err produces a bare coded error.
func Fail(err error, code errs.ErrorCode, step Phase, message string) error {
	var coded errs.PlatformError
	if err == nil {
		coded = errs.New(code, message)
	} else {
		coded = errs.Wrap(err, code, message)
	}
	return errs.WithContext(coded, failedStepKey, step)
}

// Failf is Fail with a formatted message.
func Failf(err error, code errs.ErrorCode, step Phase, format string, args ...any) error {
	return Fail(err, code, step, fmt.Sprintf(format, args...))
}

// With attaches a detail to a coded error.
func With(err error, key string, value any) error {
	if err == nil {
		return nil
	}
	return errs.WithContext(err, key, value)
}

// Code returns the stable code of err, or "" when err carries none.
func Code(err error) string {
	code := errs.GetCode(err)
	if code == errs.CodeUnknown {
		return ""
	}
	return string(code)
}

// ToError converts err into a structured Error. Uncoded errors take the fallback code.
func ToError(err error, fallback errs.ErrorCode, step Phase) *Error {
	if err == nil {
		return nil
	}
	out := &Error{Code: string(fallback), Message: err.Error(), FailedStep: step}

	var coded errs.PlatformError
	if !stderrors.As(err, &coded) || coded.Code() == errs.CodeUnknown {
		return out
	}
	out.Code = string(coded.Code())
	out.Message = coded.Message()
	if cause := coded.Unwrap(); cause != nil {
		out.Message = fmt.Sprintf("%s: %v", out.Message, cause)
	}
	ctx := coded.Context()
	if s, ok := ctx[failedStepKey].(Phase); ok {
		out.FailedStep = s
	}
	delete(ctx, failedStepKey)
	if len(ctx) > 0 {
		out.Details = ctx
	}
	return out
}

// Recovered maps a recovered panic value onto the catch-all code.
func Recovered(r any, code errs.ErrorCode, step Phase) *Error {
	return &Error{
		Code:       string(code),
		Message:    fmt.Sprintf("unexpected failure: %v", r),
		FailedStep: step,
	}
}

// DetailKeys returns the detail keys in sorted order.
func (e *Error) DetailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
