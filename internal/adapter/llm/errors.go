package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"

	"converse-stream/internal/converse"
	"converse-stream/internal/domain"
	"converse-stream/internal/eventstream"
)

// bedrockErrorFromCode maps a Bedrock error code (an x-amzn-ErrorType value,
// a smithy error code or an exception frame's type) to a domain error.
func bedrockErrorFromCode(code, msg string) error {
	name := strings.ToLower(code)
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "exception")
	detail := code
	if msg != "" {
		detail = code + ": " + msg
	}

	switch name {
	case "throttling", "toomanyrequests", "servicequotaexceeded":
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case "accessdenied", "unrecognizedclient", "expiredtoken", "invalidsignature":
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case "validation":
		if strings.Contains(strings.ToLower(msg), "too long") {
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
		}
		return domain.NewSubSystemError("bedrock", "Bedrock.ConverseStream", domain.ErrInvalidInput, detail)
	case "resourcenotfound":
		return domain.NewSubSystemError("bedrock", "Bedrock.ConverseStream", domain.ErrNotFound, detail)
	case "modeltimeout":
		return domain.NewSubSystemError("bedrock", "Bedrock.ConverseStream", domain.ErrTimeout, detail)
	case "modelnotready", "serviceunavailable", "internalserver", "modelstreamerror":
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, detail)
	}
	return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
}

// mapHTTPError maps a non-200 ConverseStream response to a domain error.
// The x-amzn-ErrorType header wins; the status code is the fallback.
func mapHTTPError(statusCode int, errorType string, body []byte) error {
	msg := bodyMessage(body)
	if errorType != "" {
		return bedrockErrorFromCode(errorType, msg)
	}
	detail := fmt.Sprintf("API error %d: %s", statusCode, msg)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusNotFound:
		return domain.NewSubSystemError("bedrock", "Bedrock.ConverseStream", domain.ErrNotFound, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

// bodyMessage extracts the "message" field AWS puts in JSON error bodies,
// falling back to the raw body.
func bodyMessage(body []byte) string {
	var v struct {
		Message      string `json:"message"`
		MessageUpper string `json:"Message"`
	}
	if json.Unmarshal(body, &v) == nil {
		if v.Message != "" {
			return v.Message
		}
		if v.MessageUpper != "" {
			return v.MessageUpper
		}
	}
	return strings.TrimSpace(string(body))
}

// mapBedrockError maps an error returned by the bedrockruntime client.
func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return bedrockErrorFromCode(apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return domain.WrapOp("bedrock", err)
}

// mapStreamError maps an error that ended a stream after the response began.
// The eventstream sentinel stays reachable through errors.Is.
func mapStreamError(err error) error {
	if err == nil {
		return nil
	}
	if ex, ok := converse.IsException(err); ok {
		return bedrockErrorFromCode(ex.Type, ex.Message)
	}
	switch {
	case errors.Is(err, eventstream.ErrTruncatedStream):
		return fmt.Errorf("%w: %w", domain.ErrStreamTruncated, err)
	case eventstream.IsFatal(err) && isCodecError(err):
		return fmt.Errorf("%w: %w", domain.ErrStreamProtocol, err)
	}
	return err
}

func isCodecError(err error) bool {
	return errors.Is(err, eventstream.ErrProtocolViolation) ||
		errors.Is(err, eventstream.ErrMalformedInput) ||
		errors.Is(err, eventstream.ErrChecksumMismatch)
}
