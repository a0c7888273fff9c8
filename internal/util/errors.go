package util

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ValidationError 请求数据缺失或越界，在任何状态修改前拒绝
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError is only raised for explicitly required resources.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError 乐观锁版本冲突，由服务层重试，不向调用方传播
type ConflictError struct {
	Resource string
	Key      string
	Expected int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: version conflict (expected %d)", e.Resource, e.Key, e.Expected)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
