package source

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/baldanca/s3-event-pipeline/failure"
)

// nonRetryableCodes are SQS error codes that repeat on every attempt.
var nonRetryableCodes = map[string]struct{}{
	"ReceiptHandleIsInvalid":                  {},
	"InvalidParameterValue":                   {},
	"InvalidAddress":                          {},
	"InvalidSecurity":                         {},
	"AccessDenied":                            {},
	"QueueDoesNotExist":                       {},
	"AWS.SimpleQueueService.NonExistentQueue": {},
}

// RetryableCode reports whether a request failing with code may succeed
// when sent again.
func RetryableCode(code string) bool {
	_, permanent := nonRetryableCodes[code]
	return !permanent
}

// Retryable reports whether deleting the entry again may succeed.
func (f AckFailure) Retryable() bool { return RetryableCode(f.Code) }

// transportError wraps a whole-request failure. Errors carrying a
// non-retryable AWS code are marked failure.Permanent.
func transportError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && !RetryableCode(apiErr.ErrorCode()) {
		return failure.Permanent(wrapped)
	}
	return wrapped
}
