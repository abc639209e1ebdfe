package lease

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const gib = 1 << 30

// Ask is what a provider is willing to accept for one token. Minimums are
// inclusive and maximums exclusive; a zero maximum is unbounded.
type Ask struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	MinSize     uint64
	MaxSize     uint64

	// MinPrice is the minimum total price of a lease.
	MinPrice *big.Int
	// MinPricePerGiBHour is the minimum of price / (GiB stored * hours leased).
	MinPricePerGiBHour *big.Int
	// MaxPenaltyRate is the maximum penalty / price ratio.
	MaxPenaltyRate float64
}

type Asks map[common.Address]Ask

// Evaluate returns a *TermsError if the terms fall outside the ask for their
// token.
func (a Asks) Evaluate(t Terms, size uint64) error {
	ask, ok := a[t.Token]
	if !ok {
		return termsErr(ReasonTokenNotAccepted)
	}

	switch {
	case t.LeaseDuration < ask.MinDuration:
		return termsErr(ReasonDurationTooShort)
	case ask.MaxDuration > 0 && t.LeaseDuration >= ask.MaxDuration:
		return termsErr(ReasonDurationTooLong)
	case size < ask.MinSize:
		return termsErr(ReasonSizeTooSmall)
	case ask.MaxSize > 0 && size >= ask.MaxSize:
		return termsErr(ReasonSizeTooBig)
	}

	if ask.MinPrice != nil && t.Price.Cmp(ask.MinPrice) < 0 {
		return termsErr(ReasonTotalTooSmall)
	}

	secs := uint64(t.LeaseDuration / time.Second)
	if ask.MinPricePerGiBHour != nil && ask.MinPricePerGiBHour.Sign() > 0 {
		if secs == 0 || size == 0 {
			return termsErr(ReasonPriceRateTooSmall)
		}

		// price * 3600 * GiB / (seconds * size)
		rate := new(big.Int).Mul(t.Price, big.NewInt(3600*gib))
		rate.Quo(rate, new(big.Int).Mul(new(big.Int).SetUint64(secs), new(big.Int).SetUint64(size)))
		if rate.Cmp(ask.MinPricePerGiBHour) < 0 {
			return termsErr(ReasonPriceRateTooSmall)
		}
	}

	if t.Penalty.Sign() > 0 {
		if t.Price.Sign() == 0 {
			return termsErr(ReasonPenaltyTooHigh)
		}
		rate := new(big.Rat).SetFrac(t.Penalty, t.Price)
		limit := new(big.Rat)
		limit.SetFloat64(ask.MaxPenaltyRate)
		if rate.Cmp(limit) > 0 {
			return termsErr(ReasonPenaltyTooHigh)
		}
	}

	return nil
}
