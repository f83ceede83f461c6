package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ubuygold/stockmeta/internal/keymanager"
)

var (
	// ErrRateLimited means the credential hit a quota or rate limit (HTTP 429).
	ErrRateLimited = errors.New("quota exceeded (429), wait and retry or rotate credentials")
	// ErrInvalidCredential means the API rejected the key itself.
	ErrInvalidCredential = errors.New("API key rejected")
	// ErrEmptyResponse means the model returned no usable content.
	ErrEmptyResponse = errors.New("empty response from model")
)

// ValidationError reports input the model cannot analyze. It is surfaced per item.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Error kinds recorded on queue items.
const (
	KindRateLimited       = "rate_limited"
	KindValidation        = "validation"
	KindInvalidCredential = "invalid_credential"
	KindUnknown           = "unknown"
)

// Kind maps an error returned by the generator to its kind.
func Kind(err error) string {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.As(err, &verr):
		return KindValidation
	case errors.Is(err, ErrInvalidCredential):
		return KindInvalidCredential
	}
	return KindUnknown
}

// classify wraps an API error with the matching sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generation timed out: %w", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Message)
		case http.StatusBadRequest:
			if mentionsInvalidKey(apiErr.Message) {
				return fmt.Errorf("%w: %s", ErrInvalidCredential, apiErr.Message)
			}
		}
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("%w: %s", ErrRateLimited, s.Message())
		case codes.Unauthenticated, codes.PermissionDenied:
			return fmt.Errorf("%w: %s", ErrInvalidCredential, s.Message())
		case codes.InvalidArgument:
			if mentionsInvalidKey(s.Message()) {
				return fmt.Errorf("%w: %s", ErrInvalidCredential, s.Message())
			}
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case mentionsInvalidKey(msg):
		return fmt.Errorf("%w: %s", ErrInvalidCredential, msg)
	}
	return err
}

func mentionsInvalidKey(msg string) bool {
	return strings.Contains(msg, "API key not valid") || strings.Contains(msg, "API_KEY_INVALID")
}

// CredentialOutcome maps a call result to the outcome reported for the credential
// that made it. Validation errors say nothing about the credential: ok is false.
func CredentialOutcome(err error) (outcome keymanager.Outcome, ok bool) {
	if err == nil {
		return keymanager.OutcomeSuccess, true
	}
	switch Kind(err) {
	case KindValidation:
		return 0, false
	case KindRateLimited:
		return keymanager.OutcomeRateLimited, true
	case KindInvalidCredential:
		return keymanager.OutcomeInvalid, true
	}
	return keymanager.OutcomeFailure, true
}
