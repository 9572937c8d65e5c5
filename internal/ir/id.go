package ir

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// DefaultObjectIDSize is the length of generated object ids.
const DefaultObjectIDSize = 10

// RandomString returns n random alphanumeric characters.
func RandomString(n int) string {
	max := big.NewInt(int64(len(idAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = idAlphabet[idx.Int64()]
	}
	return string(out)
}

// IDGenerator produces object ids. Tests substitute a deterministic generator.
type IDGenerator interface {
	NewObjectID(size int) string
}

// RandomIDs generates ids from crypto/rand.
type RandomIDs struct{}

// NewObjectID returns a random alphanumeric id of the given size.
func (RandomIDs) NewObjectID(size int) string {
	if size <= 0 {
		size = DefaultObjectIDSize
	}
	return RandomString(size)
}
