package sheets

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/googleapi"
)

// RetryConfig controls retries of Sheets API calls.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	RetryStatus []int
}

// DefaultRetryConfig retries rate limiting and transient server errors.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	RetryDelay:  time.Second * 2,
	RetryStatus: []int{429, 500, 502, 503, 504},
}

func shouldRetry(statusCode int, config RetryConfig) bool {
	for _, code := range config.RetryStatus {
		if statusCode == code {
			return true
		}
	}
	return false
}

// withRetry runs call until it succeeds, fails with a non-retryable error or
// the retry budget is spent. The delay grows linearly with each attempt.
func withRetry(ctx context.Context, config RetryConfig, call func() error) error {
	var err error
	for retry := 0; retry <= config.MaxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(config.RetryDelay * time.Duration(retry)):
			}
		}

		err = call()
		if err == nil {
			return nil
		}
		var gerr *googleapi.Error
		if !errors.As(err, &gerr) || !shouldRetry(gerr.Code, config) {
			return err
		}
	}
	return err
}
