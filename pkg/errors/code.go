package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Host authentication errors
// 12000-12999: Question & test case errors
// 13000-13999: Submission & grading errors

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

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage errors (10400-10499)
	StorageError   ErrorCode = 10400
	ObjectNotFound ErrorCode = 10401

	// ========== Host Authentication Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Question Errors (12000-12999) ==========

	// Question basic (12000-12099)
	QuestionNotFound ErrorCode = 12000

	// Test cases (12100-12199)
	TestCaseNotFound  ErrorCode = 12100
	TestCaseInvalid   ErrorCode = 12102
	TestCaseTooLarge  ErrorCode = 12103
	NoTestCases       ErrorCode = 12104
	BackupInvalid     ErrorCode = 12110
	BackupWriteFailed ErrorCode = 12111

	// ========== Submission & Grading Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	SubmissionSaveFailed ErrorCode = 13001
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// Grading (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	SandboxUnavailable  ErrorCode = 13107
	ExecutionAborted    ErrorCode = 13108

	// Result bundles (13200-13299)
	BundleCorrupted    ErrorCode = 13200
	BundleNotAvailable ErrorCode = 13201
	BundleEncodeFailed ErrorCode = 13202
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

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Storage
	StorageError:   "Object storage operation failed",
	ObjectNotFound: "Object not found",

	// Host authentication
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Question
	QuestionNotFound: "Question not found",

	// Test cases
	TestCaseNotFound:  "Test case not found",
	TestCaseInvalid:   "Invalid test case definition",
	TestCaseTooLarge:  "Test case is too large",
	NoTestCases:       "Question has no test cases",
	BackupInvalid:     "Invalid test case backup",
	BackupWriteFailed: "Failed to write test case backup",

	// Submission
	SubmissionNotFound:   "Submission not found",
	SubmissionSaveFailed: "Failed to save submission",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",

	// Grading
	JudgeQueueFull:      "Grading queue is full, please try again later",
	JudgeSystemError:    "Grading system error",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	SandboxUnavailable:  "Sandbox is unavailable",
	ExecutionAborted:    "Testing was aborted",

	// Result bundles
	BundleCorrupted:    "Cached test results are corrupted",
	BundleNotAvailable: "No test results are available",
	BundleEncodeFailed: "Failed to encode test results",
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
	case c == NotFound, c == QuestionNotFound, c == SubmissionNotFound, c == TestCaseNotFound,
		c == ObjectNotFound, c == BundleNotAvailable:
		return 404
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == TestCaseInvalid, c == NoTestCases, c == BackupInvalid,
		c == LanguageNotSupported, c == CodeTooLarge, c == TestCaseTooLarge:
		return 400
	default:
		return 500
	}
}
