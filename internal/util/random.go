package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomInt returns a uniformly distributed integer in [min, max].
func RandomInt(min, max int) (int, error) {
	if max < min {
		return 0, fmt.Errorf("invalid range [%d, %d]", min, max)
	}
	num, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, err
	}
	return min + int(num.Int64()), nil
}

const fractionBits = 53

// RandomFraction returns a uniformly distributed float in [0, 1).
func RandomFraction() (float64, error) {
	num, err := rand.Int(rand.Reader, big.NewInt(1<<fractionBits))
	if err != nil {
		return 0, err
	}
	return float64(num.Int64()) / float64(int64(1)<<fractionBits), nil
}
