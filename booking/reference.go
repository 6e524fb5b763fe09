package booking

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	referencePrefix       = "MC"
	referenceAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceRandomLength = 8
)

// NewReference returns "MC", the UTC year of now, and eight random
// uppercase alphanumerics, e.g. MC2025K7Q2ZP4D.
func NewReference(now time.Time) (string, error) {
	suffix := make([]byte, referenceRandomLength)
	max := big.NewInt(int64(len(referenceAlphabet)))

	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("could not read random reference: %w", err)
		}
		suffix[i] = referenceAlphabet[n.Int64()]
	}

	return fmt.Sprintf("%s%04d%s", referencePrefix, now.UTC().Year(), suffix), nil
}
