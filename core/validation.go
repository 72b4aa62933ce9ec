package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Request limits shared by the CLI and the HTTP API.
const (
	MaxPromptLength  = 500
	MaxDimension     = 4096
	DefaultDimension = 512
	MaxBatchSize     = 100
)

var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_\./]+$`)

// ValidationError describes a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidatePrompt requires 1..MaxPromptLength characters that are not all whitespace.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("must be at most %d characters", MaxPromptLength)}
	}
	return nil
}

// ValidateDimensions requires both sides within 1..MaxDimension.
func ValidateDimensions(width, height int) error {
	if width < 1 || width > MaxDimension {
		return &ValidationError{Field: "width", Message: fmt.Sprintf("must be between 1 and %d", MaxDimension)}
	}
	if height < 1 || height > MaxDimension {
		return &ValidationError{Field: "height", Message: fmt.Sprintf("must be between 1 and %d", MaxDimension)}
	}
	return nil
}

// ValidateModelName accepts letters, digits and - _ . / separators.
func ValidateModelName(model string) error {
	if model == "" {
		return nil
	}
	if !modelNamePattern.MatchString(model) {
		return &ValidationError{Field: "model", Message: "contains invalid characters"}
	}
	return nil
}

// ValidateProvider accepts an empty name (use configured order) or a known provider.
func ValidateProvider(name string) error {
	if name == "" || IsKnownProvider(name) {
		return nil
	}
	return &ValidationError{Field: "provider", Message: fmt.Sprintf("must be one of %s", strings.Join(KnownProviders, ", "))}
}

// ValidateBatchSize requires 1..MaxBatchSize jobs.
func ValidateBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return &ValidationError{Field: "jobs", Message: fmt.Sprintf("batch must contain between 1 and %d jobs", MaxBatchSize)}
	}
	return nil
}

// ValidateEnvironment checks a key environment name.
func ValidateEnvironment(env string) error {
	if !IsValidEnvironment(env) {
		return &ValidationError{Field: "environment", Message: "must be development, staging or production"}
	}
	return nil
}
