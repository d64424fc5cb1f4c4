package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/veyra-commerce/api/internal/platform/requestctx"
)

// Envelope is the JSON shape every endpoint responds with. Data carries the
// endpoint-specific payload and is omitted when nil.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error is a transport-level error carrying the HTTP status to respond with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a transport error with an explicit status code.
func NewError(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

func BadRequest(message string, err error) *Error {
	return NewError(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *Error {
	return NewError(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *Error {
	return NewError(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *Error {
	return NewError(http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *Error {
	return NewError(http.StatusConflict, message, err)
}

func Internal(message string, err error) *Error {
	return NewError(http.StatusInternalServerError, message, err)
}

// WriteJSON responds with the envelope at the given status code.
func WriteJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// WriteSuccess responds with a successful envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError maps err to the envelope. A *Error dictates its own status;
// anything else becomes a 500 with a generic message, with the original error
// logged but never echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var herr *Error
	if !errors.As(err, &herr) {
		herr = Internal("internal server error", err)
	}
	if herr.Status >= http.StatusInternalServerError {
		requestctx.Logger(r.Context()).Error("http.request.failed",
			zap.Int("status", herr.Status),
			zap.String("message", herr.Message),
			zap.Error(err),
		)
	} else {
		requestctx.Logger(r.Context()).Warn("http.request.rejected",
			zap.Int("status", herr.Status),
			zap.String("message", herr.Message),
		)
	}
	WriteJSON(w, herr.Status, Envelope{Success: false, Message: herr.Message})
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return BadRequest("invalid request body", err)
	}
	return nil
}
