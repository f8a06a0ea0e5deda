package models

import (
	"errors"
	"fmt"
)

// GatewayErrorKind classifies exchange failures by how the engine should
// react to them.
type GatewayErrorKind string

const (
	// GatewayTransient: network or rate-limit trouble; retry, position
	// state unchanged.
	GatewayTransient GatewayErrorKind = "transient"
	// GatewayRejected: the exchange refused the request (bad price,
	// insufficient balance); revert to a safe state.
	GatewayRejected GatewayErrorKind = "rejected"
	// GatewayAuthFailure: credentials are wrong; operator-visible.
	GatewayAuthFailure GatewayErrorKind = "auth_failure"
)

type GatewayError struct {
	Kind GatewayErrorKind
	Op   string
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func NewGatewayError(kind GatewayErrorKind, op string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, Err: err}
}

func gatewayKind(err error) (GatewayErrorKind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is retryable. Unclassified errors are
// treated as transient so damaged networking never flips position state.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := gatewayKind(err)
	return !ok || kind == GatewayTransient
}

func IsRejected(err error) bool {
	kind, ok := gatewayKind(err)
	return ok && kind == GatewayRejected
}

func IsAuthFailure(err error) bool {
	kind, ok := gatewayKind(err)
	return ok && kind == GatewayAuthFailure
}
