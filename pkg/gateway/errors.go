package gateway

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError is a transport failure before or while a response was
// outstanding. The call may or may not have reached the gateway.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gateway connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// GatewayError is an explicit rejection from the gateway, carried on an
// ok=false response frame.
type GatewayError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway rejected request (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway rejected request: %s", e.Message)
}

// TimeoutError means no matching response arrived within the call's bound.
// The connection is forcibly closed when this is returned.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway request %s timed out after %s", e.Method, e.Timeout)
}

func gatewayError(body *ErrorBody) *GatewayError {
	if body == nil {
		return &GatewayError{Message: "request failed"}
	}
	return &GatewayError{
		Code:    body.Code,
		Message: body.Message,
		Details: body.Details,
	}
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsGatewayError reports whether err is an explicit gateway rejection.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
