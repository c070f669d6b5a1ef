// Package apperr 定义业务错误分类以及到HTTP状态码的映射
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// AppError 携带错误类别、机器可读的原因码和面向用户的消息
type AppError struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按原因码比较, 这样带上下文的副本仍然能匹配哨兵错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

func New(kind Kind, reason, message string) *AppError {
	return &AppError{Kind: kind, Reason: reason, Message: message}
}

// Wrap 把底层错误包装为内部错误
func Wrap(err error, message string) *AppError {
	return &AppError{Kind: KindInternal, Reason: "INTERNAL_ERROR", Message: message, Err: err}
}

// WithMessage 复制哨兵错误并替换消息
func (e *AppError) WithMessage(message string) *AppError {
	c := *e
	c.Message = message
	return &c
}

var (
	ErrInvalidContent       = New(KindValidation, "INVALID_CONTENT", "message content must be 1-5000 characters")
	ErrInvalidMessageType   = New(KindValidation, "INVALID_MESSAGE_TYPE", "message_type must be one of text, image, file, system")
	ErrInvalidSelfMessage   = New(KindValidation, "INVALID_SELF_MESSAGE", "cannot send a message to yourself")
	ErrInvalidID            = New(KindValidation, "INVALID_ID", "id must be a positive integer")
	ErrInvalidRequest       = New(KindValidation, "INVALID_REQUEST", "invalid request")
	ErrReceiverNotFound     = New(KindNotFound, "RECEIVER_NOT_FOUND", "receiver does not exist")
	ErrMessageNotFound      = New(KindNotFound, "MESSAGE_NOT_FOUND", "message does not exist")
	ErrUserNotFound         = New(KindNotFound, "USER_NOT_FOUND", "user does not exist")
	ErrForbidden            = New(KindAuthorization, "FORBIDDEN", "not allowed to modify this message")
	ErrAuthenticationFailed = New(KindAuthentication, "AUTHENTICATION_FAILED", "missing or invalid credential")
	ErrUserExists           = New(KindConflict, "USER_EXISTS", "username or email already exists")
)

// KindOf 返回错误的类别, 非AppError一律视为内部错误
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public 返回可以展示给调用方的原因码和消息, 内部错误不泄露细节
func Public(err error) (reason, message string) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Reason, appErr.Message
	}
	return "INTERNAL_ERROR", "internal server error"
}
