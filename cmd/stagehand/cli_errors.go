// Copyright 2026 © The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Stagehand CLI.
package main

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/studio"
)

// CLIError wraps StagehandError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.StagehandError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(se *errors.StagehandError, hint string) *CLIError {
	return &CLIError{
		StagehandError: se,
		Hint:           hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.StagehandError == nil {
		return "unknown error"
	}

	msg := e.StagehandError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(json bool) {
	if json {
		fmt.Fprintf(os.Stderr, `{"error":{"code":"%s","message":"%s","hint":"%s"}}%s`,
			e.StagehandError.Code,
			e.StagehandError.Message,
			e.Hint,
			"\n")
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.StagehandError.Code, e.StagehandError.Message)
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// WrapAPIError maps a studio API failure onto a CLI error with a hint that
// matches the failure class.
func WrapAPIError(err error, operation string) *CLIError {
	var apiErr *studio.APIError
	if !stderrors.As(err, &apiErr) {
		se := errors.AsStagehandError(err).WithContext("operation", operation)
		return NewCLIError(se, "")
	}

	switch {
	case apiErr.Timeout:
		se := errors.New(errors.CodeTimeout, operation+" timed out", err).
			WithContext("operation", operation).
			WithRecoverable(true)
		return NewCLIError(se, "increase studio.timeout or check the studio endpoint health")
	case apiErr.Status == http.StatusUnauthorized:
		se := errors.New(errors.CodeUnauthorized, operation+" rejected", err).
			WithContext("operation", operation).
			WithRecoverable(false)
		return NewCLIError(se, "check the credential in studio.credential or STAGEHAND_STUDIO_CREDENTIAL")
	case apiErr.Status == http.StatusTooManyRequests:
		se := errors.New(errors.CodeRateLimit, operation+" rate limited", err).
			WithContext("operation", operation).
			WithRecoverable(true)
		return NewCLIError(se, "lower the request rate or raise run.backoff")
	case apiErr.Status == http.StatusNotFound:
		se := errors.New(errors.CodeNotFound, operation+" target not found", err).
			WithContext("operation", operation).
			WithRecoverable(false)
		return NewCLIError(se, "check the agent id with 'stagehand agents list'")
	default:
		se := errors.New(errors.CodeAPI, operation+" failed", err).
			WithContext("operation", operation).
			WithStatusCode(apiErr.Status)
		return NewCLIError(se, "")
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	se := errors.New(errors.CodeValidation, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(se, "run 'stagehand help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	se := errors.New(errors.CodeValidation, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(se, hint)
}

// NewValidationError wraps a document validation failure with CLI hints.
func NewValidationError(verr *errors.ValidationError) *CLIError {
	se := errors.New(errors.CodeValidation, verr.Error(), nil).
		WithRecoverable(false)
	return NewCLIError(se, "fix the listed fields; 'stagehand validate <file>' reruns the checks")
}

// PrintSimpleError prints a simple error message (for non-StagehandError cases).
func PrintSimpleError(err error, json bool) {
	if json {
		fmt.Fprintf(os.Stderr, `{"error":{"code":"UNKNOWN","message":"%s"}}%s`, err.Error(), "\n")
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
}
