package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument  = Code(codes.InvalidArgument)
	CodeNotFound         = Code(codes.NotFound)
	CodeUnprocessable    = Code(codes.FailedPrecondition)
	CodeMethodNotAllowed = Code(codes.Unimplemented)
	CodeTooManyRequests  = Code(codes.ResourceExhausted)
	CodeInternal         = Code(codes.Internal)
	CodeUnauthenticated  = Code(codes.Unauthenticated)
	CodePermissionDenied = Code(codes.PermissionDenied)
)

var code2http = map[Code]int{
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeUnprocessable:    http.StatusUnprocessableEntity,
	CodeMethodNotAllowed: http.StatusMethodNotAllowed,
	CodeTooManyRequests:  http.StatusTooManyRequests,
	CodeInternal:         http.StatusInternalServerError,
	CodeUnauthenticated:  http.StatusUnauthorized,
	CodePermissionDenied: http.StatusForbidden,
}

var code2message = map[Code]string{
	CodeInvalidArgument:  "bad request",
	CodeNotFound:         "not found",
	CodeUnprocessable:    "unprocessable",
	CodeMethodNotAllowed: "method not allowed",
	CodeTooManyRequests:  "too many requests",
	CodeInternal:         "internal server error",
	CodeUnauthenticated:  "unauthorized",
	CodePermissionDenied: "forbidden",
}

// Error carries a code for the boundary and the original cause for logs.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: code.message(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (c Code) message() string {
	if m, ok := code2message[c]; ok {
		return m
	}

	return codes.Code(c).String()
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as *Error. Errors without a code become Internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

func Unprocessable(err error, format string, args ...any) *Error {
	return New(CodeUnprocessable, WithCause(err), WithMessagef(format, args...))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
