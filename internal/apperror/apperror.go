package apperror

import (
	"errors"
	"fmt"
)

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an AppError without a cause.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates an AppError around err. A nil err yields nil.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// From returns the AppError in err's chain, or ErrInternal wrapping err.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, ErrInternal.Message, ErrInternal.HTTPStatus)
}

// QualityError rejects a face sample whose quality score is under the admission threshold.
type QualityError struct {
	*AppError
	Score float64
}

// LowQuality builds the rejection for score.
func LowQuality(score float64) *QualityError {
	return &QualityError{
		AppError: New(CodeLowQuality, fmt.Sprintf("face quality too low (score %.2f)", score), ErrLowQuality.HTTPStatus),
		Score:    score,
	}
}

// As lets errors.As find the embedded AppError.
func (e *QualityError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e.AppError
		return true
	}
	return false
}

// StoreUnavailable wraps a persistence failure.
func StoreUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return Wrap(err, CodeStoreUnavailable, ErrStoreUnavailable.Message, ErrStoreUnavailable.HTTPStatus)
}

// ProviderUnavailable wraps a failure of the detection/embedding provider.
func ProviderUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return Wrap(err, CodeProviderUnavailable, ErrProviderUnavailable.Message, ErrProviderUnavailable.HTTPStatus)
}
