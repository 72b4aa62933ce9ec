package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig     = "MISSING_CONFIG"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeUnknownProvider   = "UNKNOWN_PROVIDER"
	ErrCodeNoProviders       = "NO_PROVIDERS"
	ErrCodeMissingSecret     = "MISSING_SECRET"
	ErrCodeInvalidObjectDest = "INVALID_OBJECT_STORE"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue returns an error for a configuration value outside its allowed range.
func ErrInvalidValue(varName string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s=%v: %s", varName, value, reason),
		Action:  fmt.Sprintf("Correct %s in your .env file", varName),
	}
}

// ErrUnknownProvider returns an error for a provider name that bananagen does not know.
func ErrUnknownProvider(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownProvider,
		Message: fmt.Sprintf("Unknown provider %q", name),
		Action:  "Use one of: gemini, openrouter, requesty, mock",
	}
}

// ErrNoProviders is returned when no provider has credentials and mock mode is off.
func ErrNoProviders() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeNoProviders,
		Message: "No image provider is configured",
		Action:  "Set NANO_BANANA_API_KEY, OPENROUTER_API_KEY or REQUESTY_API_KEY, run `bananagen configure`, or set BANANAGEN_MOCK_MODE=true",
	}
}

// ErrMissingSecret is returned when sealed keys are used without BANANAGEN_SECRET_KEY.
func ErrMissingSecret() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingSecret,
		Message: "BANANAGEN_SECRET_KEY is not set",
		Action:  "Set BANANAGEN_SECRET_KEY to a long random value before storing provider keys",
	}
}

// ErrInvalidObjectStore is returned for incomplete MinIO settings.
func ErrInvalidObjectStore(reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidObjectDest,
		Message: fmt.Sprintf("MinIO artifact store: %s", reason),
		Action:  "Set MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET, or unset MINIO_ENDPOINT",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
