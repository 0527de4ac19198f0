package formclient

import (
	"errors"
	"fmt"
	"time"

	"alumni-forms/validation"
)

// Messages shown next to the form.
const (
	MsgCheckInput = "入力内容をご確認ください。"
	MsgRetryLater = "送信に失敗しました。時間をおいて再度お試しください。"
)

// ErrInFlight is returned by Submit while an earlier call has not returned.
var ErrInFlight = errors.New("formclient: a submission is already in flight")

// ValidationError is returned before any request is made.
type ValidationError struct {
	Fields validation.FieldErrors
}

func (e *ValidationError) Error() string { return "invalid form: " + e.Fields.Error() }
func (e *ValidationError) Unwrap() error { return e.Fields }

// TimeoutError means the intake did not answer within the request's time
// budget: the configured timeout, or less when the caller's context ends first.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("request timed out after %s", e.After) }

// TransportError wraps a connection-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "request failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("unexpected HTTP status %d", e.Status) }

// ResponseParseError carries the raw body of a response that was not JSON.
type ResponseParseError struct {
	Body string
	Err  error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("invalid response body %q: %v", e.Body, e.Err)
}
func (e *ResponseParseError) Unwrap() error { return e.Err }

// ApplicationError is an envelope with success set to false.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string { return "intake rejected submission: " + e.Message }

// UserMessage is what the form shows for err: a prompt to fix the input for
// validation failures, a retry prompt for everything else, "" for nil.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return MsgCheckInput
	}
	return MsgRetryLater
}
