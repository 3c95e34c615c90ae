// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"errors"
	"fmt"
)

// ErrorCode classifies gateway errors for HTTP mapping and retry decisions.
type ErrorCode string

const (
	// ErrCodeAuth means no execution context could be resolved. Never retried.
	ErrCodeAuth ErrorCode = "authentication_error"

	// ErrCodeConfig means a provider is misconfigured (missing API key,
	// unsupported family). Surfaced as 500 with a sanitized message.
	ErrCodeConfig ErrorCode = "configuration_error"

	// ErrCodeBudget means the tenant's spend budget is exhausted.
	ErrCodeBudget ErrorCode = "budget_exhausted"

	// ErrCodeRateLimit means the tenant's request rate is exhausted.
	ErrCodeRateLimit ErrorCode = "rate_limited"

	// ErrCodeParameter means a workflow step parameter failed resolution
	// or validation.
	ErrCodeParameter ErrorCode = "parameter_error"

	// ErrCodeTransport means a step dispatch or provider call failed at
	// the transport level (timeout, non-2xx, RPC error).
	ErrCodeTransport ErrorCode = "transport_error"

	// ErrCodeTimeout means a step or workflow deadline was exceeded.
	ErrCodeTimeout ErrorCode = "timeout"
)

// Error is the gateway error type. All messages pass through the sanitizer
// at construction, so an Error can always be logged or returned verbatim.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a sanitized Error. This is the single construction path:
// both message and cause text are scrubbed of credential material here, not
// at individual call sites.
func NewError(code ErrorCode, message string, cause error) *Error {
	if cause != nil {
		cause = errors.New(Sanitize(cause.Error()))
	}
	return &Error{
		Code:    code,
		Message: Sanitize(message),
		Cause:   cause,
	}
}

// Errorf builds a sanitized Error from a format string.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

// CodeOf extracts the ErrorCode from err, or empty string if err is not a
// gateway Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsTerminal reports whether err must not be retried or failed over:
// budget and rate-limit exhaustion are contract-terminal, authentication
// failures never improve on retry.
func IsTerminal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeBudget, ErrCodeRateLimit, ErrCodeAuth:
		return true
	}
	return false
}
