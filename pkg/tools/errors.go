package tools

import "errors"

// Sentinel errors for tool template failures.
// Callers should use errors.Is() to check for these.
var (
	ErrUnknownRole     = errors.New("tools: unknown role")
	ErrUnknownVariable = errors.New("tools: unknown template variable")
	ErrNoBinary        = errors.New("tools: binary not set")
	ErrNoReport        = errors.New("tools: report name not set")
	ErrReportNotPassed = errors.New("tools: arguments never pass {{report}}")
	ErrBadReportName   = errors.New("tools: report name must be a relative path inside the output directory")
)
