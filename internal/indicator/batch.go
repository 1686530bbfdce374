package indicator

import "kcu-companion/internal/model"

// Compute runs ind over every candle from a fresh state and returns the
// aligned series. It resets ind first, so calling it twice on the same input
// yields bit-identical output.
func Compute(ind Indicator, candles []model.Candle) model.Series {
	ind.Reset()
	pts := make([]model.Point, len(candles))
	for i, c := range candles {
		ind.Update(c)
		pts[i] = point(c.Time, ind)
	}
	return model.Series{Name: ind.Name(), Points: pts}
}

// ComputeEMA returns EMA(period) over candles.
func ComputeEMA(candles []model.Candle, period int) model.Series {
	return Compute(NewEMA(period), candles)
}

// ComputeSMA returns SMA(period) over candles.
func ComputeSMA(candles []model.Candle, period int) model.Series {
	return Compute(NewSMA(period), candles)
}

// ComputeVWAP returns the session VWAP over candles. A nil sessionOf uses
// the New York calendar date.
func ComputeVWAP(candles []model.Candle, sessionOf SessionFunc) model.Series {
	return Compute(NewVWAP(sessionOf), candles)
}

func point(t int64, ind Indicator) model.Point {
	if v, ok := ind.Value(); ok {
		return model.Present(t, v)
	}
	return model.Absent(t)
}

func peekPoint(c model.Candle, ind Indicator) model.Point {
	if v, ok := ind.Peek(c); ok {
		return model.Present(c.Time, v)
	}
	return model.Absent(c.Time)
}
