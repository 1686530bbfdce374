package model

import "strconv"

// ChartKey identifies one chart instance: "SYMBOL:TFs", e.g. "SPY:60s".
func ChartKey(symbol string, tf int) string {
	return symbol + ":" + strconv.Itoa(tf) + "s"
}

// CandleChannel returns the pub/sub channel carrying live bars:
// "pub:candle:{TF}s:{symbol}".
func CandleChannel(symbol string, tf int) string {
	return "pub:candle:" + strconv.Itoa(tf) + "s:" + symbol
}

// LevelsKey returns the key holding the latest level snapshot for a symbol.
func LevelsKey(symbol string) string {
	return "levels:" + symbol
}

// LevelsChannel returns the pub/sub channel announcing new level snapshots.
func LevelsChannel(symbol string) string {
	return "pub:levels:" + symbol
}
