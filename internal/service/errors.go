// internal/service/errors.go
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/pkg/schema"
)

// ServiceError is a non-2xx answer from the processing service.
type ServiceError struct {
	Status int
	Body   string
}

func (e *ServiceError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("processing service returned status %d", e.Status)
	}
	return fmt.Sprintf("processing service returned status %d: %s", e.Status, e.Body)
}

// DecodeError means a 2xx body did not have the expected shape.
type DecodeError struct {
	What  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause == nil {
		return "decode " + e.What
	}
	return fmt.Sprintf("decode %s: %v", e.What, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// TimeoutError is returned when a request exceeds its deadline.
type TimeoutError struct {
	Op    string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// Classify maps an error to the failure type published with lifecycle events.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	var verr request.ValidationError
	if errors.As(err, &verr) {
		return schema.FailureTypeValidation
	}

	var terr *TimeoutError
	if errors.As(err, &terr) {
		return schema.FailureTypeRetryable
	}

	var serr *ServiceError
	if errors.As(err, &serr) {
		if serr.Status >= 500 || serr.Status == 429 {
			return schema.FailureTypeRetryable
		}
		return schema.FailureTypePermanent
	}

	var derr *DecodeError
	if errors.As(err, &derr) {
		return schema.FailureTypePermanent
	}

	errStr := err.Error()
	if strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "permission denied") {
		return schema.FailureTypePermanent
	}

	return schema.FailureTypeRetryable
}
