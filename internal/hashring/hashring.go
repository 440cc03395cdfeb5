// Package hashring produces deterministic, uniformly distributed positions
// in [0,1) from ordered sets of object identifiers. It is the basis of
// percentage-split segment conditions and multivariate value selection:
// the same ids must map to the same position in every process, on every
// version, so server-side and SDK-side evaluation agree.
package hashring

import (
	"crypto/md5"
	"encoding/hex"
	"math/big"
	"strings"
)

// The digest is reduced modulo one bucket count and normalized by a
// divisor one smaller, so raw positions land in [0, 1.0001...]. A result of
// exactly 1 is re-hashed with the input repeated once more (see
// PercentageValue); these constants are part of the wire contract and must
// never change.
const (
	hashBuckets = 9999
	hashDivisor = 9998
)

// PercentageValue maps the ordered identifiers to a stable float in [0,1).
//
// The identifiers are joined with commas and md5-hashed; the digest, read as
// one big integer, is reduced to a bucket and normalized. md5 is used for
// its stability and spread, not for security. Order matters: callers follow
// the documented conventions ([segmentID, identityID] for percentage
// splits, [featureID, identityID] for multivariate selection).
func PercentageValue(objectIDs []string) float64 {
	joined := strings.Join(objectIDs, ",")

	for iterations := 1; ; iterations++ {
		v := hashedPercentage(strings.Repeat(joined, iterations))
		if v < 1 {
			return v
		}
		// v == 1 exactly: lengthen the input and try again so the
		// result stays inside the half-open interval.
	}
}

func hashedPercentage(s string) float64 {
	sum := md5.Sum([]byte(s))

	// The 128-bit digest exceeds uint64; math/big keeps the reduction exact.
	n := new(big.Int)
	n.SetString(hex.EncodeToString(sum[:]), 16)

	bucket := new(big.Int).Mod(n, big.NewInt(hashBuckets))
	return float64(bucket.Int64()) / hashDivisor
}
