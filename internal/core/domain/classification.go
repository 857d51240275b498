package domain

import "log/slog"

// Classification is the normalized category of an attempt outcome.
type Classification string

const (
	ClassSuccess              Classification = "success"
	ClassExpectedOffline      Classification = "expected-offline"
	ClassTransientUnavailable Classification = "transient-unavailable"
	ClassRateLimited          Classification = "rate-limited"
	ClassClientConfigError    Classification = "client-config-error"
	ClassServerError          Classification = "server-error"
	ClassTimeout              Classification = "timeout"
	ClassConnectionReset      Classification = "connection-reset"
	ClassUnknown              Classification = "unknown"
)

// FailureClasses lists every failure classification.
var FailureClasses = []Classification{
	ClassExpectedOffline,
	ClassTransientUnavailable,
	ClassRateLimited,
	ClassClientConfigError,
	ClassServerError,
	ClassTimeout,
	ClassConnectionReset,
	ClassUnknown,
}

// PolicyHint is the handling attached to a classification.
type PolicyHint struct {
	Level     slog.Level
	Countable bool
	Retryable bool
}

var policyHints = map[Classification]PolicyHint{
	ClassSuccess:              {Level: slog.LevelDebug},
	ClassExpectedOffline:      {Level: slog.LevelDebug},
	ClassTransientUnavailable: {Level: slog.LevelWarn, Countable: true, Retryable: true},
	ClassRateLimited:          {Level: slog.LevelWarn, Countable: true, Retryable: true},
	ClassClientConfigError:    {Level: slog.LevelError, Countable: true},
	ClassServerError:          {Level: slog.LevelError, Countable: true},
	ClassTimeout:              {Level: slog.LevelWarn, Countable: true, Retryable: true},
	ClassConnectionReset:      {Level: slog.LevelWarn, Countable: true, Retryable: true},
	ClassUnknown:              {Level: slog.LevelError, Countable: true},
}

// Policy returns the hint for c. Unrecognized values get the unknown hint.
func (c Classification) Policy() PolicyHint {
	if h, ok := policyHints[c]; ok {
		return h
	}
	return policyHints[ClassUnknown]
}

// IsFailure reports whether c is anything other than success.
func (c Classification) IsFailure() bool {
	return c != ClassSuccess
}

func (c Classification) String() string {
	return string(c)
}
