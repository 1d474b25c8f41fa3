// Package orcherrors implements the error taxonomy of the orchestrator
// (spec §7): ConfigError is fatal at startup; the other four kinds are
// always caught by the reconciler, stage workers, poller, and reporter and
// materialized into persisted fields, never propagated to the scheduler.
package orcherrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig          Kind = "config"
	KindTransientRemote  Kind = "transient_remote"
	KindPermanentRemote  Kind = "permanent_remote"
	KindDataInvariant    Kind = "data_invariant"
	KindReportDelivery   Kind = "report_delivery"
)

// Error wraps an underlying cause with a Kind for log classification and
// branch selection in the poller/reconciler.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{kind: k, msg: msg, cause: cause}
}

func Config(msg string, cause error) *Error         { return newErr(KindConfig, msg, cause) }
func TransientRemote(msg string, cause error) *Error { return newErr(KindTransientRemote, msg, cause) }
func PermanentRemote(msg string, cause error) *Error { return newErr(KindPermanentRemote, msg, cause) }
func DataInvariant(msg string, cause error) *Error   { return newErr(KindDataInvariant, msg, cause) }
func ReportDelivery(msg string, cause error) *Error  { return newErr(KindReportDelivery, msg, cause) }

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
