package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDetection      = errors.New("detection error")
	ErrClassification = errors.New("classification error")
	ErrExtraction     = errors.New("extraction error")
	ErrConversion     = errors.New("conversion error")
	ErrTransition     = errors.New("transition error")
	ErrDistribution   = errors.New("distribution error")
	ErrManifest       = errors.New("manifest error")
	ErrExternalTool   = errors.New("external tool error")
	ErrValidation     = errors.New("validation error")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
)

// Scope describes how far an error should propagate.
type Scope int

const (
	// ScopeFile errors are recorded against the offending file; the unit
	// continues processing.
	ScopeFile Scope = iota
	// ScopeUnit errors route the whole unit to Exceptions.
	ScopeUnit
	// ScopeEngine errors abort the run.
	ScopeEngine
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorScope maps a wrapped error to the propagation scope the orchestrator
// should apply. Detection, conversion, and extraction failures stay with the
// file; structural failures condemn the unit; configuration problems stop
// the engine.
func ErrorScope(err error) Scope {
	switch {
	case err == nil:
		return ScopeFile
	case errors.Is(err, ErrConfiguration):
		return ScopeEngine
	case errors.Is(err, ErrManifest), errors.Is(err, ErrTransition),
		errors.Is(err, ErrDistribution), errors.Is(err, ErrNotFound):
		return ScopeUnit
	default:
		return ScopeFile
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
