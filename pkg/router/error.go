package router

import (
	"encoding/json"
	"net/http"
)

// Error is an error that knows how to write itself as an HTTP response.
type Error interface {
	error
	StatusCode() int
	Encode(w http.ResponseWriter) error
}

// JsonError is written as {"code": ..., "error": ...}. When built with
// WrapJsonError it keeps the underlying error for errors.Is and errors.As.
type JsonError struct {
	Code  int    `json:"code"`
	Err   string `json:"error"`
	cause error
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

// WrapJsonError uses err's message as the response body and keeps err as the cause.
func WrapJsonError(code int, err error) JsonError {
	return JsonError{
		Code:  code,
		Err:   err.Error(),
		cause: err,
	}
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Unwrap() error {
	return e.cause
}

// Encode writes the status code and the JSON body.
func (e JsonError) Encode(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	return json.NewEncoder(w).Encode(e)
}
