package common

import (
	"crypto/rand"
	"math/big"
)

// NumericCode returns a random code of exactly n digits (leading zeros
// allowed).
func NumericCode(n int) (string, error) {
	const digits = "0123456789"
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		out[i] = digits[v.Int64()]
	}
	return string(out), nil
}
