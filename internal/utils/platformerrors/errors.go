package platformerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunIDKey is the context key carrying the bulk update run ID.
type RunIDKey struct{}

func getRunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if runID, ok := ctx.Value(RunIDKey{}).(string); ok {
		return runID
	}
	return ""
}

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection    ErrorType = "CONNECTION"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeExternal      ErrorType = "EXTERNAL"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

// Layer represents the application layer where the error occurred
type Layer string

const (
	LayerDomain         Layer = "domain"
	LayerInfrastructure Layer = "infrastructure"
	LayerConfig         Layer = "config"
	LayerCLI            Layer = "cli"
)

// PlatformError represents an error with context and metadata
type PlatformError struct {
	UUID      string
	Type      ErrorType
	Message   string
	Err       error
	Context   map[string]any
	RunID     string
	Layer     Layer
	Timestamp time.Time
}

// Error implements the error interface
func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s][%s][%s] %s: %v", e.Layer, e.Type, e.UUID, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s][%s][%s] %s", e.Layer, e.Type, e.UUID, e.Message)
}

// Unwrap returns the underlying error
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewError creates a new PlatformError with the specified parameters
func NewError(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, customUUID string) *PlatformError {
	return NewErrorWithContext(ctx, layer, errorType, message, err, customUUID, nil)
}

// NewErrorWithContext creates a new PlatformError with additional context fields
func NewErrorWithContext(ctx context.Context, layer Layer, errorType ErrorType, message string, err error, customUUID string, contextFields map[string]any) *PlatformError {
	errorUUID := customUUID
	if errorUUID == "" {
		errorUUID = uuid.NewString()
	}

	errorContext := make(map[string]any, len(contextFields))
	for k, v := range contextFields {
		errorContext[k] = v
	}

	return &PlatformError{
		UUID:      errorUUID,
		Type:      errorType,
		Message:   message,
		Err:       err,
		RunID:     getRunIDFromContext(ctx),
		Layer:     layer,
		Timestamp: time.Now().UTC(),
		Context:   errorContext,
	}
}

// AsError wraps an error with layer context, keeping the type of a wrapped PlatformError.
func AsError(ctx context.Context, layer Layer, err error, message string) *PlatformError {
	if err == nil {
		return nil
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return NewError(ctx, layer, platformErr.Type, fmt.Sprintf("%s: %s", message, platformErr.Message), platformErr, platformErr.UUID)
	}

	return NewError(ctx, layer, ErrorTypeInternal, message, err, "")
}

// ErrorTypeFromStatus classifies a remote HTTP status code.
func ErrorTypeFromStatus(status int) ErrorType {
	switch status {
	case http.StatusUnauthorized:
		return ErrorTypeUnauthorized
	case http.StatusForbidden:
		return ErrorTypeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return ErrorTypeNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		return ErrorTypeExternal
	}
}

// TypeOf returns the type of the first PlatformError in the chain, or INTERNAL.
func TypeOf(err error) ErrorType {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Type
	}
	return ErrorTypeInternal
}

// IsErrorType checks if an error is a PlatformError with the specified type
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) == errorType
}

// IsFatal reports whether err must abort a whole run rather than a single item.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeUnauthorized, ErrorTypeForbidden, ErrorTypeConfiguration:
		return true
	}
	return false
}

// Kind returns the human-readable error class shown in run summaries.
func Kind(err error) string {
	switch TypeOf(err) {
	case ErrorTypeConnection:
		return "ConnectionError"
	case ErrorTypeUnauthorized, ErrorTypeForbidden:
		return "AuthError"
	case ErrorTypeValidation:
		return "ValidationError"
	case ErrorTypeNotFound:
		return "NotFoundError"
	case ErrorTypeExternal:
		return "RemoteError"
	case ErrorTypeConfiguration:
		return "ConfigError"
	default:
		return "Error"
	}
}

// Detail renders err as "<Kind>: <message>" without layer and UUID noise.
// Nested platform errors are reported by their innermost message.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		for platformErr.Err != nil {
			var inner *PlatformError
			if !errors.As(platformErr.Err, &inner) {
				break
			}
			platformErr = inner
		}
		if platformErr.Err != nil {
			return fmt.Sprintf("%s: %s: %v", Kind(err), platformErr.Message, platformErr.Err)
		}
		return fmt.Sprintf("%s: %s", Kind(err), platformErr.Message)
	}
	return fmt.Sprintf("%s: %v", Kind(err), err)
}

// LogError logs a platform error with proper structure
func LogError(logger zerolog.Logger, err *PlatformError) {
	if err == nil {
		return
	}

	event := logger.Error().
		Str("error_uuid", err.UUID).
		Str("error_type", string(err.Type)).
		Str("layer", string(err.Layer)).
		Time("timestamp_utc", err.Timestamp)

	if err.RunID != "" {
		event = event.Str("run_id", err.RunID)
	}

	for k, v := range err.Context {
		event = event.Interface(k, v)
	}

	if err.Err != nil {
		event = event.Err(err.Err)
	}

	event.Msg(err.Message)
}
