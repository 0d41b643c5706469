package ib

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrConnectionLost = errors.New("connection lost")
	ErrAlreadyStarted = errors.New("client already started")
	ErrVersionTooOld  = errors.New("server version below minimum")
)

// NoValidID is the id the venue uses for errors not tied to a request.
const NoValidID = -1

// APIError is a failure reported by the venue for a request or order.
type APIError struct {
	ID      int64
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %d (id %d): %s", e.Code, e.ID, e.Message)
}

// Venue error codes the session interprets.
const (
	CodeNoSecurityDefinition = 200
	CodeOrderCancelled       = 202 // notice sent after an order has been cancelled
)

// IsInformational reports codes that are notices rather than failures:
// connectivity and farm status messages and order warnings.
func IsInformational(code int) bool {
	switch {
	case code >= 2100 && code <= 2169:
		return true
	case code == 399 || code == 434 || code == 10167:
		return true
	case code == 1100 || code == 1101 || code == 1102:
		return true
	}
	return false
}
