package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Problem errors
// 13000-13999: Submission & Judge errors

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

	// Infrastructure (10100-10299)
	DatabaseError ErrorCode = 10100
	CacheError    ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound ErrorCode = 12000

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004

	// Judge (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
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

	DatabaseError:    "Database operation failed",
	CacheError:       "Cache operation failed",
	ValidationFailed: "Validation failed",

	// Authentication
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	ProblemNotFound: "Problem not found",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	// Judge
	JudgeQueueFull:   "Judge queue is unavailable, please try again later",
	JudgeSystemError: "Judge system error",
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
	case c == NotFound, c == ProblemNotFound, c == SubmissionNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return 503
	case c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
