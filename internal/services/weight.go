package services

import (
	"fmt"
	"math/big"
)

// MaxWeightBps is 100% expressed in basis points.
const MaxWeightBps = 10000

// Weight is a scoring proportion stored in basis points (1% = 100 bps).
// Construction is the single validation point; a constructed Weight is
// always within [0, MaxWeightBps].
type Weight struct {
	bps int
}

func NewWeight(bps int) (Weight, error) {
	if bps < 0 || bps > MaxWeightBps {
		return Weight{}, NewInvalidError(fmt.Sprintf("weight %d bps out of range [0, %d]", bps, MaxWeightBps))
	}
	return Weight{bps: bps}, nil
}

// Bps returns the stored basis points verbatim.
func (w Weight) Bps() int { return w.bps }

// Percent returns the exact decimal percentage (bps/100) as a rational.
// Scoring stays on rationals end to end; only the final total is rendered
// to a decimal string.
func (w Weight) Percent() *big.Rat { return big.NewRat(int64(w.bps), 100) }

func (w Weight) String() string { return fmt.Sprintf("%dbps", w.bps) }
