package curve

import "testing"

func TestSellQuoteScenario(t *testing.T) {
	virtualBase := uint64(30_000_000_000)
	virtualToken := uint64(1_000_000_000_000)
	realBase := uint64(20_000_000_000)
	realToken := uint64(800_000_000_000)
	_ = realToken

	tokensIn := uint64(10_000_000_000)
	q := SellQuote(virtualBase, virtualToken, realBase, tokensIn)

	if q.AmountIn != tokensIn {
		t.Fatalf("AmountIn = %d, want %d", q.AmountIn, tokensIn)
	}

	grossBase := mulDiv(tokensIn, virtualBase, virtualToken+tokensIn)
	wantNet := mulDiv(grossBase, 9900, 10000)
	if wantNet > realBase {
		wantNet = realBase
	}
	if q.AmountOut != wantNet {
		t.Fatalf("AmountOut = %d, want %d", q.AmountOut, wantNet)
	}
}

func TestBuyQuoteZeroInput(t *testing.T) {
	q := BuyQuote(1000, 1000, 1000, 0)
	if q.AmountOut != 0 || q.PriceImpactBps != 0 {
		t.Fatalf("zero input should yield zero output, got %+v", q)
	}
}

func TestSellQuoteZeroInput(t *testing.T) {
	q := SellQuote(1000, 1000, 1000, 0)
	if q.AmountOut != 0 {
		t.Fatalf("zero input should yield zero output, got %+v", q)
	}
}

func TestBuyQuoteNeverExceedsRealReserve(t *testing.T) {
	q := BuyQuote(1_000_000, 1_000_000_000, 500, 1_000_000_000)
	if q.AmountOut > 500 {
		t.Fatalf("AmountOut %d exceeds realToken cap 500", q.AmountOut)
	}
}

func TestSellQuoteNeverExceedsRealReserve(t *testing.T) {
	q := SellQuote(1_000_000_000, 1_000_000, 500, 1_000_000)
	if q.AmountOut > 500 {
		t.Fatalf("AmountOut %d exceeds realBase cap 500", q.AmountOut)
	}
}

func TestApplySlippageIdentityAtZero(t *testing.T) {
	if got := ApplySlippage(12345, 0, Buy); got != 12345 {
		t.Fatalf("ApplySlippage(_, 0, Buy) = %d, want 12345", got)
	}
	if got := ApplySlippage(12345, 0, Sell); got != 12345 {
		t.Fatalf("ApplySlippage(_, 0, Sell) = %d, want 12345", got)
	}
}

func TestApplySlippageOrdering(t *testing.T) {
	amount := uint64(100_000)
	buyBound := ApplySlippage(amount, 500, Buy)
	sellBound := ApplySlippage(amount, 500, Sell)
	if !(buyBound >= amount && amount >= sellBound) {
		t.Fatalf("want buyBound(%d) >= amount(%d) >= sellBound(%d)", buyBound, amount, sellBound)
	}
}

func TestBuyQuoteDeterministic(t *testing.T) {
	a := BuyQuote(30_000_000_000, 1_000_000_000_000, 800_000_000_000, 5_000_000_000)
	b := BuyQuote(30_000_000_000, 1_000_000_000_000, 800_000_000_000, 5_000_000_000)
	if a != b {
		t.Fatalf("BuyQuote not deterministic: %+v vs %+v", a, b)
	}
}
