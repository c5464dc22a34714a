package auth

import "time"

// Credential binds an account address to a passphrase hash. Holding a token
// issued for an address is how HTTP callers prove they act as that address.
type Credential struct {
	Address        string
	PassphraseHash string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains the data needed to claim an address.
type RegisterRequest struct {
	Address    string `json:"address"`
	Passphrase string `json:"passphrase"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Address    string `json:"address"`
	Passphrase string `json:"passphrase"`
}
