package strategy

import "fmt"

// freeFallPct is the short-window change below which buy-on-drop
// waits instead of catching a falling knife.
const freeFallPct = -2.0

// freeFallWindow bounds how many trailing samples the free-fall
// check inspects.
const freeFallWindow = 5

// EvaluateBuy runs the primary near-low entry first and falls back to
// the drop entry only when the primary declines.
func EvaluateBuy(p Params, s Snapshot) BuyDecision {
	if d := EvaluateBuyAtLow(p, s); d.Buy {
		return d
	}
	return EvaluateBuyOnDrop(p, s)
}

// EvaluateBuyAtLow buys near the daily low when the day has moved
// enough and the short-term trend has already turned up.
func EvaluateBuyAtLow(p Params, s Snapshot) BuyDecision {
	if len(s.History) < p.MinHistory {
		return BuyDecision{Reason: fmt.Sprintf("need %d samples, have %d", p.MinHistory, len(s.History))}
	}
	if s.DailyHigh <= s.DailyLow || s.DailyLow <= 0 {
		return BuyDecision{Reason: "daily range not established"}
	}

	rangePct := (s.DailyHigh - s.DailyLow) / s.DailyLow * 100
	if rangePct < p.MinDailyVariation {
		return BuyDecision{Reason: fmt.Sprintf("daily range %.2f%% below %.2f%%", rangePct, p.MinDailyVariation)}
	}

	distFromLow := (s.Price - s.DailyLow) / s.DailyLow * 100
	if distFromLow > p.BuyThresholdFromLow {
		return BuyDecision{Reason: fmt.Sprintf("price %.2f%% above daily low, band is %.2f%%", distFromLow, p.BuyThresholdFromLow)}
	}

	if !cooldownElapsed(p, s) {
		return BuyDecision{Reason: "buy cooldown active"}
	}

	if !risingTrend(s.History, p.TrendWindow) {
		return BuyDecision{Reason: "short-term trend not rising"}
	}

	return BuyDecision{
		Buy:    true,
		Code:   ReasonBuyAtLow,
		Reason: fmt.Sprintf("%.2f%% above daily low with %.2f%% daily range and rising trend", distFromLow, rangePct),
	}
}

// EvaluateBuyOnDrop buys a sharp intraday pullback from the high,
// outside the near-low band, unless the price is in free fall.
func EvaluateBuyOnDrop(p Params, s Snapshot) BuyDecision {
	if s.DailyHigh <= 0 || s.Price <= 0 {
		return BuyDecision{Reason: "no price data"}
	}

	dropPct := (s.DailyHigh - s.Price) / s.DailyHigh * 100
	if dropPct < p.BuyOnDropPercent {
		return BuyDecision{Reason: fmt.Sprintf("drop %.2f%% below %.2f%% threshold", dropPct, p.BuyOnDropPercent)}
	}

	// The near-low band belongs to the primary entry.
	if s.DailyLow > 0 {
		distFromLow := (s.Price - s.DailyLow) / s.DailyLow * 100
		if distFromLow <= p.BuyThresholdFromLow {
			return BuyDecision{Reason: "inside near-low band, primary entry owns it"}
		}
	}

	if !cooldownElapsed(p, s) {
		return BuyDecision{Reason: "buy cooldown active"}
	}

	if fall, pct := inFreeFall(s.History); fall {
		return BuyDecision{Reason: fmt.Sprintf("free fall %.2f%% over recent samples, waiting", pct)}
	}

	return BuyDecision{
		Buy:    true,
		Code:   ReasonBuyOnDrop,
		Reason: fmt.Sprintf("%.2f%% drop from daily high", dropPct),
	}
}

// EvaluateSell checks the profit target and the stop loss
// independently; either one alone is enough to exit.
//
// spentUSD is the executed quote amount of the buy, which already
// reflects real fills rather than the intended trade size.
func EvaluateSell(p Params, buyPrice, spentUSD, qty, price float64) SellDecision {
	if spentUSD <= 0 || qty <= 0 || price <= 0 {
		return SellDecision{Reason: "position not valued"}
	}

	sellValue := qty * price
	buyFee := spentUSD * p.TakerFee
	sellFee := sellValue * p.TakerFee
	netProfit := sellValue - spentUSD - buyFee - sellFee
	netPct := netProfit / spentUSD * 100

	if netPct >= p.ProfitTarget {
		return SellDecision{
			Sell:         true,
			Code:         ReasonProfitTarget,
			Reason:       fmt.Sprintf("net profit %.2f%% reached target %.2f%%", netPct, p.ProfitTarget),
			NetProfitPct: netPct,
		}
	}

	if buyPrice > 0 {
		drawdown := (buyPrice - price) / buyPrice * 100
		if drawdown >= p.StopLoss {
			return SellDecision{
				Sell:         true,
				Code:         ReasonStopLoss,
				Reason:       fmt.Sprintf("drawdown %.2f%% hit stop loss %.2f%%", drawdown, p.StopLoss),
				NetProfitPct: netPct,
			}
		}
	}

	return SellDecision{
		Reason:       fmt.Sprintf("holding, net %.2f%%", netPct),
		NetProfitPct: netPct,
	}
}

// ShouldReinforce reports whether an open position has drawn down far
// enough to arm the reinforcement entry. Advisory only; the engine
// still applies allocation and balance rules.
func ShouldReinforce(p Params, buyPrice, price float64) (bool, string) {
	if p.ReinforcementTrigger <= 0 || buyPrice <= 0 || price <= 0 {
		return false, ""
	}
	drawdown := (buyPrice - price) / buyPrice * 100
	if drawdown >= p.ReinforcementTrigger {
		return true, fmt.Sprintf("drawdown %.2f%% past reinforcement trigger %.2f%%", drawdown, p.ReinforcementTrigger)
	}
	return false, ""
}

func cooldownElapsed(p Params, s Snapshot) bool {
	if s.LastBuy.IsZero() || p.BuyCooldown <= 0 {
		return true
	}
	return s.Now.Sub(s.LastBuy) >= p.BuyCooldown
}

// risingTrend compares the averages of the two halves of the last
// window samples; the recent half must sit above the older half.
func risingTrend(history []PricePoint, window int) bool {
	if window < 2 {
		return false
	}
	if len(history) < window {
		window = len(history)
	}
	if window < 2 {
		return false
	}

	recent := history[len(history)-window:]
	mid := window / 2
	firstAvg := avgPrice(recent[:mid])
	secondAvg := avgPrice(recent[mid:])
	return secondAvg > firstAvg
}

// inFreeFall measures the change across the trailing samples; a fall
// steeper than freeFallPct means the drop has not finished.
func inFreeFall(history []PricePoint) (bool, float64) {
	n := len(history)
	if n < 2 {
		return false, 0
	}
	w := freeFallWindow
	if n < w {
		w = n
	}
	recent := history[n-w:]
	first := recent[0].Price
	last := recent[len(recent)-1].Price
	if first <= 0 {
		return false, 0
	}
	changePct := (last - first) / first * 100
	return changePct < freeFallPct, changePct
}

func avgPrice(points []PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, pt := range points {
		sum += pt.Price
	}
	return sum / float64(len(points))
}
