package pool

import "errors"

var (
	// ErrUnauthorized signals the caller does not hold the role the operation requires.
	ErrUnauthorized = errors.New("pool: unauthorized")
	// ErrInsufficientStake signals an entry that does not exceed the minimum stake.
	ErrInsufficientStake = errors.New("pool: insufficient stake")
	// ErrNotAParticipant signals a dispute raised by an address with no entry in the current round.
	ErrNotAParticipant = errors.New("pool: not a participant")
	// ErrNoActiveDispute signals a resolution attempted with nothing pending.
	ErrNoActiveDispute = errors.New("pool: no active dispute")
	// ErrEmptyPool signals a payout attempted with no entrants.
	ErrEmptyPool = errors.New("pool: empty pool")
	// ErrTransferFailed signals the winner could not receive the pot; the payout was rolled back.
	ErrTransferFailed = errors.New("pool: transfer failed")
	// ErrDisputeActive signals a second raise, or a payout frozen by a pending dispute.
	ErrDisputeActive = errors.New("pool: dispute already active")
	// ErrPayoutInProgress signals a mutation attempted while the pot is being handed off.
	ErrPayoutInProgress = errors.New("pool: payout in progress")
	// ErrReservedAddress signals a pool custody address used where only a person may act.
	ErrReservedAddress = errors.New("pool: address is a pool custody account")

	// ErrInvalidAddress signals a malformed or zero address.
	ErrInvalidAddress = errors.New("pool: invalid address")
	// ErrNotFound signals no pool is deployed at the address.
	ErrNotFound = errors.New("pool: not found")
)
