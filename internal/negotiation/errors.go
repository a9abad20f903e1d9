package negotiation

import "errors"

// ErrNotFound is returned when a negotiation with the given ID is not found.
var ErrNotFound = errors.New("negotiation not found")

// ErrEmptyID is returned when trying to store a negotiation with an empty ID.
var ErrEmptyID = errors.New("empty negotiation ID")

// ErrAlreadyActive is returned when the (buyer, listing) pair already has a
// non-terminal negotiation. At most one active thread may exist per pair.
var ErrAlreadyActive = errors.New("negotiation already active for buyer and listing")

// ErrInvalidPrice is returned when a proposed price falls outside
// [floor, original price].
var ErrInvalidPrice = errors.New("price outside allowed range")

// ErrWrongTurn is returned when a party proposes a price while its own
// previous proposal is still unanswered. Proposals must alternate.
var ErrWrongTurn = errors.New("counterpart has not responded to previous proposal")

// ErrNothingToAccept is returned when accept is called with no outstanding
// proposal from the counterpart, or with a price that does not match it.
var ErrNothingToAccept = errors.New("no matching outstanding proposal to accept")

// ErrTerminal is returned alongside the stored record when an offer or
// message arrives on a negotiation that already reached a terminal state.
var ErrTerminal = errors.New("negotiation is in a terminal state")

// ErrCancelDenied is returned when cancel is called by someone other than
// the initiating party, or after the counterpart has already countered.
var ErrCancelDenied = errors.New("cancel not allowed for this party or stage")

// ErrVersionConflict is returned by storage when an update raced with
// another writer. The service's per-negotiation lock makes this unreachable
// in-process; it guards multi-instance deployments on shared storage.
var ErrVersionConflict = errors.New("negotiation was modified concurrently")

// ErrInvalidActor is returned when the actor field is missing or not a
// known role.
var ErrInvalidActor = errors.New("actor must be buyer or seller")
