package errors

import "fmt"

// Gateway-specific error constructors. The first four cover the connection
// and dispatch failure modes a client can hit; the rest are operational.

// UnauthenticatedError is returned when a handshake carries no credential.
func UnauthenticatedError() *AppError {
	return New(ErrorTypeAuthentication, "UNAUTHENTICATED", "Missing authentication token").
		WithSeverity(SeverityLow).
		WithUserMessage("Authentication failed")
}

// InvalidTokenError is returned when a presented credential does not verify.
func InvalidTokenError(cause error) *AppError {
	return Wrap(cause, ErrorTypeAuthentication, "INVALID_TOKEN", "Token verification failed").
		WithSeverity(SeverityLow).
		WithUserMessage("Authentication failed")
}

// InvalidCommandError is returned to the sender only; it never affects
// other connections or groups.
func InvalidCommandError(reason string) *AppError {
	return New(ErrorTypeValidation, "INVALID_COMMAND", fmt.Sprintf("Command validation failed: %s", reason)).
		WithSeverity(SeverityLow).
		WithUserMessage(reason)
}

// DeliveryFailureError records a per-member fan-out failure. Non-fatal to
// the publish call; the failing member is torn down instead.
func DeliveryFailureError(topic string, cause error) *AppError {
	return Wrap(cause, ErrorTypeNetwork, "DELIVERY_FAILURE", fmt.Sprintf("Delivery to a member of %q failed", topic)).
		WithSeverity(SeverityLow)
}

// ConnectionLimitError is returned when the global connection cap is hit.
func ConnectionLimitError(currentCount, maxCount int) *AppError {
	return New(ErrorTypeRateLimit, "CONNECTION_LIMIT_EXCEEDED",
		fmt.Sprintf("Connection limit exceeded: %d/%d", currentCount, maxCount)).
		WithSeverity(SeverityMedium).
		WithUserMessage("Too many active connections. Please try again later.")
}

// ClientBannedError is returned to clients on the temporary ban list.
func ClientBannedError(reason string, remaining string) *AppError {
	return New(ErrorTypeAuthorization, "CLIENT_BANNED", fmt.Sprintf("Client banned: %s", reason)).
		WithSeverity(SeverityMedium).
		WithDetails(fmt.Sprintf("Ban remaining: %s", remaining)).
		WithUserMessage("Your client has been temporarily banned due to policy violations.")
}

// DatabaseConnectionError wraps telemetry store connectivity failures.
func DatabaseConnectionError(cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, "DB_CONNECTION_ERROR", "Telemetry store connection failed").
		WithSeverity(SeverityCritical).
		WithUserMessage("Telemetry store is temporarily unavailable.")
}

// ConfigurationError reports a misconfigured field at startup.
func ConfigurationError(field, reason string) *AppError {
	return New(ErrorTypeInternal, "CONFIGURATION_ERROR", fmt.Sprintf("Configuration error in %s: %s", field, reason)).
		WithSeverity(SeverityCritical)
}
