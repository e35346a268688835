package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/touchlink/gateway/internal/logger"
	"go.uber.org/zap"
)

// HTTPErrorResponse is the JSON body written for failed HTTP requests.
type HTTPErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HandleHTTPError writes an AppError as a JSON response with the status
// code implied by its type. Non-AppError values map to a generic 500.
func HandleHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = Wrap(err, ErrorTypeInternal, "INTERNAL_ERROR", "Internal server error")
	}

	logError(appErr, r)

	message := appErr.UserMessage
	if message == "" {
		message = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(appErr.Type))
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error:     message,
		Code:      appErr.Code,
		RequestID: appErr.RequestID,
		Timestamp: appErr.Timestamp.UTC().Format(time.RFC3339),
	})
}

func httpStatusFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func logError(appErr *AppError, r *http.Request) {
	fields := []zap.Field{
		zap.String("error_type", string(appErr.Type)),
		zap.String("error_code", appErr.Code),
		zap.String("severity", string(appErr.Severity)),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.Error(appErr.Cause))
	}

	switch appErr.Severity {
	case SeverityCritical, SeverityHigh:
		logger.Error(appErr.Message, fields...)
	case SeverityMedium:
		logger.Warn(appErr.Message, fields...)
	default:
		logger.Debug(appErr.Message, fields...)
	}
}

// RecoveryMiddleware converts handler panics into 500 responses instead of
// killing the process.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				panicErr := New(ErrorTypeInternal, "PANIC_RECOVERED",
					fmt.Sprintf("Panic in HTTP handler: %v", rec)).
					WithSeverity(SeverityCritical)
				HandleHTTPError(w, r, panicErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
