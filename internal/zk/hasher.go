// Package zk derives note commitments and nullifiers and assembles the
// fixed-width input structure the external proving system consumes.
package zk

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Hasher is the hash primitive over the proving field. Both functions are
// deterministic and side-effect free; the proof circuit's own hash is
// external and opaque to this backend.
type Hasher interface {
	H2(a, b *big.Int) *big.Int
	H4(a, b, c, d *big.Int) *big.Int
}

// MimcHasher implements Hasher with MiMC over the BN254 scalar field
type MimcHasher struct{}

// NewMimcHasher creates the default field hasher
func NewMimcHasher() MimcHasher {
	return MimcHasher{}
}

// H2 hashes two field elements
func (MimcHasher) H2(a, b *big.Int) *big.Int {
	return hashElements(a, b)
}

// H4 hashes four field elements
func (MimcHasher) H4(a, b, c, d *big.Int) *big.Int {
	return hashElements(a, b, c, d)
}

func hashElements(inputs ...*big.Int) *big.Int {
	h := mimc.NewMiMC()
	for _, in := range inputs {
		// Reduce into the field before writing; MiMC only accepts
		// canonical 32-byte blocks below the modulus.
		var e fr.Element
		e.SetBigInt(in)
		b := e.Bytes()
		h.Write(b[:])
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// mask251 keeps derived values inside the chain's felt range
var mask251 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(1))

// FeltHex renders a field value as a 0x-prefixed hex string masked to 251 bits
func FeltHex(v *big.Int) string {
	masked := new(big.Int).And(v, mask251)
	return "0x" + masked.Text(16)
}

// ParseFelt parses a 0x-prefixed or bare hex field value
func ParseFelt(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty field value")
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid field value %q", s)
	}
	return v, nil
}

// EncodeIdentity maps an opaque identity (chain address or external chat ID)
// onto the field. Hex identities parse directly; anything else is taken as
// raw bytes. The result is masked to the felt range either way.
func EncodeIdentity(identity string) *big.Int {
	var v *big.Int
	if strings.HasPrefix(identity, "0x") {
		if parsed, err := ParseFelt(identity); err == nil {
			v = parsed
		}
	}
	if v == nil {
		v = new(big.Int).SetBytes([]byte(identity))
	}
	return new(big.Int).And(v, mask251)
}
