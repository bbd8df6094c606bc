package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider not found")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrTranscriptNotFound = fmt.Errorf("transcript not found")
	ErrTranscriptStore    = fmt.Errorf("transcript store failed")

	// Streaming errors.
	ErrStreamProtocol  = fmt.Errorf("event stream protocol error")
	ErrStreamTruncated = fmt.Errorf("event stream truncated")
	ErrCircuitOpen     = fmt.Errorf("circuit open")

	// Resilience errors.
	ErrContextOverflow     = fmt.Errorf("context window exceeded")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")
	ErrProviderUnavailable = fmt.Errorf("provider temporarily unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Bedrock.ChatStream")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "bedrock", "transcript"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// Stream protocol errors are not retryable: the same bytes would fail the same way.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrStreamTruncated)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeProviderNotFound    ErrorCode = "PROVIDER_NOT_FOUND"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeEncryption          ErrorCode = "ENCRYPTION"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeTranscriptNotFound  ErrorCode = "TRANSCRIPT_NOT_FOUND"
	CodeTranscriptStore     ErrorCode = "TRANSCRIPT_STORE"
	CodeStreamProtocol      ErrorCode = "STREAM_PROTOCOL"
	CodeStreamTruncated     ErrorCode = "STREAM_TRUNCATED"
	CodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	CodeContextOverflow     ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeBedrockTimeout      ErrorCode = "BEDROCK_TIMEOUT"
	CodeBedrockModelInvalid ErrorCode = "BEDROCK_MODEL_INVALID"
	CodeBedrockModelMissing ErrorCode = "BEDROCK_MODEL_NOT_FOUND"

	// Category error codes, used when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:    CodeProviderNotFound,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrEncryption:          CodeEncryption,
	ErrTranscriptNotFound:  CodeTranscriptNotFound,
	ErrTranscriptStore:     CodeTranscriptStore,
	ErrStreamProtocol:      CodeStreamProtocol,
	ErrStreamTruncated:     CodeStreamTruncated,
	ErrCircuitOpen:         CodeCircuitOpen,
	ErrContextOverflow:     CodeContextOverflow,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrProviderUnavailable: CodeProviderUnavailable,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"bedrock": CodeBedrockModelMissing,
	},
	ErrTimeout: {
		"bedrock": CodeBedrockTimeout,
	},
	ErrInvalidInput: {
		"bedrock": CodeBedrockModelInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels first so that a protocol error wrapped in a
	// provider error still reports as STREAM_PROTOCOL.
	for _, sentinel := range codeOrder {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// codeOrder is the errors.Is probe order used by ErrorCodeOf. Category
// sentinels come last.
var codeOrder = []error{
	ErrStreamProtocol,
	ErrStreamTruncated,
	ErrCircuitOpen,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrProviderUnavailable,
	ErrProviderNotFound,
	ErrTranscriptNotFound,
	ErrTranscriptStore,
	ErrConfigLoad,
	ErrDecryption,
	ErrEncryption,
	ErrNotFound,
	ErrTimeout,
	ErrInvalidInput,
	ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
