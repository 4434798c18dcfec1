// Package curve implements the bonding-curve AMM math: pure functions over
// 64-bit unsigned integers, no I/O, no floating point on reserves or
// balances. Intermediate products are widened to 128 bits (math/big) to
// avoid overflow before the final division narrows back to uint64.
package curve

import "math/big"

// FeeBps is the protocol fee, 1% = 100 basis points.
const FeeBps = 100

const bpsDenominator = 10000

// Quote is the result of a buy or sell quote.
type Quote struct {
	AmountIn       uint64
	AmountOut      uint64
	PriceImpactBps uint64
}

func mulDiv(a, b, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Div(prod, new(big.Int).SetUint64(d))
	if !prod.IsUint64() {
		return ^uint64(0)
	}
	return prod.Uint64()
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// BuyQuote computes the tokens received for baseIn, buyer-pays-fee model,
// constant-product curve, capped to the available real token reserve.
func BuyQuote(virtualBase, virtualToken, realToken, baseIn uint64) Quote {
	if baseIn == 0 {
		return Quote{}
	}

	netBase := mulDiv(baseIn, bpsDenominator, bpsDenominator+FeeBps)
	tokensOut := mulDiv(netBase, virtualToken, virtualBase+netBase)
	result := minU64(tokensOut, realToken)

	var impact uint64
	if result > 0 && virtualToken > 0 {
		spotPrice := mulDiv(virtualBase, bpsDenominator, virtualToken)
		execPrice := mulDiv(baseIn, bpsDenominator, result)
		if execPrice > spotPrice && spotPrice > 0 {
			impact = mulDiv(execPrice-spotPrice, bpsDenominator, spotPrice)
		}
	}

	return Quote{AmountIn: baseIn, AmountOut: result, PriceImpactBps: impact}
}

// SellQuote computes the base currency received for tokensIn, capped to
// the available real base reserve.
func SellQuote(virtualBase, virtualToken, realBase, tokensIn uint64) Quote {
	if tokensIn == 0 {
		return Quote{}
	}

	grossBase := mulDiv(tokensIn, virtualBase, virtualToken+tokensIn)
	netBase := mulDiv(grossBase, bpsDenominator-FeeBps, bpsDenominator)
	result := minU64(netBase, realBase)

	var impact uint64
	if result > 0 && virtualToken > 0 {
		spotPrice := mulDiv(virtualBase, bpsDenominator, virtualToken)
		execPrice := mulDiv(result, bpsDenominator, tokensIn)
		if spotPrice > execPrice && spotPrice > 0 {
			impact = mulDiv(spotPrice-execPrice, bpsDenominator, spotPrice)
		}
	}

	return Quote{AmountIn: tokensIn, AmountOut: result, PriceImpactBps: impact}
}

// Side selects the direction a slippage bound is applied in.
type Side int

const (
	Buy Side = iota
	Sell
)

// ApplySlippage returns the buy-side maximum cost or sell-side minimum
// receipt for a quoted amount at slippageBps tolerance. Zero bps is the
// identity; higher bps relaxes the bound further from amount on the side
// disadvantageous to the trader.
func ApplySlippage(amount uint64, slippageBps int, side Side) uint64 {
	if slippageBps <= 0 {
		return amount
	}
	switch side {
	case Buy:
		return mulDiv(amount, bpsDenominator+uint64(slippageBps), bpsDenominator)
	default:
		return mulDiv(amount, bpsDenominator-minU64(uint64(slippageBps), bpsDenominator), bpsDenominator)
	}
}
