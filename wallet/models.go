package wallet

import (
	"math/big"
	"time"
)

// Account is the balance record of one address. Pool custody addresses are
// accounts too; their balance is the pot.
type Account struct {
	Address      string
	Balance      *big.Int
	AcceptsFunds bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
