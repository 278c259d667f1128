package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/web-research-agent/pkg/log"
)

type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrValidation
	ErrAPI
	ErrNetwork
	ErrStorage
	ErrReport
	ErrResearch
	ErrUnknown
)

// ResearchError carries a classified error with optional key/value context.
type ResearchError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *ResearchError {
	return &ResearchError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *ResearchError {
	return &ResearchError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *ResearchError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *ResearchError) Unwrap() error {
	return e.Cause
}

func (e *ResearchError) WithContext(key string, value any) *ResearchError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrValidation:
		return "Validation"
	case ErrAPI:
		return "API"
	case ErrNetwork:
		return "Network"
	case ErrStorage:
		return "Storage"
	case ErrReport:
		return "Report"
	case ErrResearch:
		return "Research"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var resErr *ResearchError
	if errors.As(err, &resErr) {
		return resErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *ResearchError {
	return NewErrorWithCause(errorType, message, err)
}

func Must(err error, message string) {
	if err != nil {
		log.Error("%s: %v", message, err)
		panic(fmt.Sprintf("%s: %v", message, err))
	}
}
