// Package coreerr defines the sentinel error taxonomy shared across the
// reconciliation core, wrapped with fmt.Errorf("...: %w", ...) at each
// call site so callers can errors.Is against a stable set of kinds.
package coreerr

import "errors"

var (
	// ErrTransport covers socket resets and other transport I/O failures;
	// always recovered by reconnect, never surfaced to callers.
	ErrTransport = errors.New("transport error")

	// ErrParse covers malformed JSON on an inbound frame; the frame is
	// dropped and the error logged at WARN.
	ErrParse = errors.New("parse error")

	// ErrAuth is a fatal login rejection: the session halts and does not
	// reconnect.
	ErrAuth = errors.New("auth error")

	// ErrSubscribe is a subscribe rejection; treated as transient, session
	// closes and reconnects.
	ErrSubscribe = errors.New("subscribe error")

	// ErrDuplicate marks an event already seen by the dedup registry;
	// expected, discarded silently.
	ErrDuplicate = errors.New("duplicate event")

	// ErrQueueFull marks a bounded channel saturated; the newest event is
	// dropped and logged at ERROR.
	ErrQueueFull = errors.New("queue full")

	// ErrLedgerConflict is returned by ledger operations on an unknown
	// cloid and by a pid rebind to a different cloid. The reconciliation
	// engine never sees it for unresolvable events: a position close with
	// no bound cloid is journaled with an empty cloid, and a fill for an
	// unknown cloid is dropped with a warning and not journaled.
	ErrLedgerConflict = errors.New("ledger conflict")

	// ErrExchangeRejection covers a failed REST call (e.g. cancelAlgo)
	// that must not fail the caller's transition.
	ErrExchangeRejection = errors.New("exchange rejection")

	// ErrTimeout covers ping, connect, and subscribe timeouts; treated as
	// ErrTransport.
	ErrTimeout = errors.New("timeout")
)
