package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth & session errors
// 12000-12999: Transport errors (HTTP call, push channel)
// 13000-13999: Submission lifecycle errors
// 14000-14999: Local state errors (solved cache, token state)

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth & Session Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Transport Errors (12000-12999) ==========

	// HTTP (12000-12099)
	RequestFailed     ErrorCode = 12000
	UnexpectedStatus  ErrorCode = 12001
	MalformedResponse ErrorCode = 12002

	// Push channel (12100-12199)
	PushConnectFailed  ErrorCode = 12100
	PushDisconnected   ErrorCode = 12101
	PushMalformedEvent ErrorCode = 12102

	// ========== Submission Lifecycle Errors (13000-13999) ==========

	SubmissionNotFound   ErrorCode = 13000
	ActionInFlight       ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmitTooFrequently  ErrorCode = 13004
	ProblemNotFound      ErrorCode = 13005
	SubmissionTimeout    ErrorCode = 13006
	CoordinatorClosed    ErrorCode = 13007
	ReviewFailed         ErrorCode = 13008

	// ========== Local State Errors (14000-14999) ==========

	SolvedStoreFailed ErrorCode = 14000
	TokenStateFailed  ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Transport
	RequestFailed:      "Request to backend failed",
	UnexpectedStatus:   "Backend returned an unexpected status",
	MalformedResponse:  "Backend response is malformed",
	PushConnectFailed:  "Failed to connect push channel",
	PushDisconnected:   "Push channel disconnected",
	PushMalformedEvent: "Push event is malformed",

	// Submission lifecycle
	SubmissionNotFound:   "Submission not found",
	ActionInFlight:       "Another run is still in progress",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmitTooFrequently:  "Submitting too frequently, please wait",
	ProblemNotFound:      "Problem not found",
	SubmissionTimeout:    "No result received in time, check your submission history",
	CoordinatorClosed:    "Workspace is closed",
	ReviewFailed:         "AI review request failed",

	// Local state
	SolvedStoreFailed: "Failed to persist solved status",
	TokenStateFailed:  "Failed to persist token state",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == ProblemNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}

// IsTransport reports whether the code belongs to the transport range.
func (c ErrorCode) IsTransport() bool {
	return c >= 12000 && c < 13000
}
