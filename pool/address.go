package pool

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address identifies a caller or a custody holder in canonical lower-case
// 0x-prefixed hex form.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// ParseAddress validates s and returns its canonical form.
func ParseAddress(s string) (Address, error) {
	a := Address(strings.ToLower(strings.TrimSpace(s)))
	if !addressPattern.MatchString(string(a)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

func (a Address) IsZero() bool { return a == "" }

// DeriveAddress computes a custody address from the deployer and a salt, the
// last 20 bytes of keccak256(deployer || salt).
func DeriveAddress(deployer Address, salt []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(deployer))
	h.Write(salt)
	sum := h.Sum(nil)
	return Address("0x" + hex.EncodeToString(sum[12:]))
}
