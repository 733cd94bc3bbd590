// Package address validates, detects and fabricates Solana and Ethereum wallet addresses.
package address

import (
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"
)

// Chain identifies the network an address belongs to.
type Chain string

// Supported chains.
const (
	Solana   Chain = "Solana"
	Ethereum Chain = "Ethereum"
)

// BlockSec chain identifiers.
const (
	ChainIDEthereum = 1
	ChainIDSolana   = -3
)

// Alphabet is the base58 alphabet used by Solana keys and signatures.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz123456789"

// Errors returned.
var (
	ErrInvalid     = errors.New("invalid address format")
	ErrUnsupported = errors.New("unsupported wallet address format")
)

var pattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}\b|\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

// Validate returns the chain of addr or ErrInvalid. Ethereum addresses are 0x followed by 40 hex digits; Solana
// addresses are 32 to 44 base58 characters decoding to a 32-byte public key.
func Validate(addr string) (Chain, error) {
	if strings.HasPrefix(addr, "0x") {
		if len(addr) != 42 {
			return "", ErrInvalid
		}
		if _, err := hex.DecodeString(addr[2:]); err != nil {
			return "", ErrInvalid
		}
		return Ethereum, nil
	}

	if len(addr) < 32 || len(addr) > 44 {
		return "", ErrInvalid
	}

	b, err := base58.Decode(addr)
	if err != nil || len(b) != 32 {
		return "", ErrInvalid
	}

	return Solana, nil
}

// ChainID returns the BlockSec chain id for addr: 1 for Ethereum, -3 for 44-character Solana addresses.
func ChainID(addr string) (int, error) {
	switch {
	case strings.HasPrefix(addr, "0x") && len(addr) == 42:
		return ChainIDEthereum, nil
	case len(addr) == 44:
		return ChainIDSolana, nil
	}
	return 0, ErrUnsupported
}

// Detect returns the first valid Solana or Ethereum address mentioned in text. Base58 runs that do not decode to a
// public key are skipped.
func Detect(text string) (string, bool) {
	for _, m := range pattern.FindAllString(text, -1) {
		if _, err := Validate(m); err == nil {
			return m, true
		}
	}
	return "", false
}

// Short returns the display label used for graph nodes: the first 8 characters followed by "...".
func Short(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8] + "..."
}

// Random returns a 44-character base58 string that looks like a Solana address.
func Random(r *rand.Rand) string {
	return randomString(r, 44)
}

// RandomSignature returns an 88-character base58 string that looks like a Solana transaction signature.
func RandomSignature(r *rand.Rand) string {
	return randomString(r, 88)
}

func randomString(r *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[r.IntN(len(Alphabet))]
	}
	return string(b)
}
