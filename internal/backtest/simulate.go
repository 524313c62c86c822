package backtest

import "github.com/sawpanic/seec/internal/domain"

// simulate walks one symbol's bar segment in chronological order, opening
// a long position when every entry rule passes and closing it on the first
// passing exit rule (or at the segment's last bar, forcing a close so no
// position is left dangling across a train/test boundary). No position may
// be open while another is open for the same symbol (§5 "strictly
// serialized").
func simulate(symbol string, bars []Bar, ruleSet domain.RuleSet, cost CostModel) ([]domain.TradeRecord, []domain.EquityPoint) {
	if len(bars) == 0 {
		return nil, nil
	}

	crossState := make(map[string]int)
	curve := make([]domain.EquityPoint, 0, len(bars))
	var trades []domain.TradeRecord

	equity := 1.0
	peak := equity
	inPosition := false
	entryPrice := 0.0
	entryBar := 0

	for i := range bars {
		if !inPosition {
			if evaluateAll(bars, i, ruleSet.Entry, crossState) {
				entryPrice = cost.apply(bars[i].Close, true)
				entryBar = i
				inPosition = true
			}
		} else {
			atEnd := i == len(bars)-1
			if atEnd || evaluateAny(bars, i, ruleSet.Exit, crossState) {
				exitPrice := cost.apply(bars[i].Close, false)
				pnl := exitPrice - entryPrice
				trades = append(trades, domain.TradeRecord{
					Symbol:     symbol,
					EntryBar:   entryBar,
					ExitBar:    i,
					EntryPrice: entryPrice,
					ExitPrice:  exitPrice,
					Side:       "long",
					PnL:        pnl,
				})
				if entryPrice != 0 {
					equity *= 1 + pnl/entryPrice
				}
				inPosition = false
			}
		}

		if equity > peak {
			peak = equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		curve = append(curve, domain.EquityPoint{BarIndex: i, Equity: equity, Drawdown: dd})
	}

	return trades, curve
}
