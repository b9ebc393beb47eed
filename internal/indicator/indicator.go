package indicator

import "bbot/internal/models"

// This file contains the pure series math. Every function is a
// deterministic function of its input, which keeps the sync service
// idempotent and the whole pipeline testable without a market connection.

// EMA computes an exponential moving average with alpha = 2/(period+1),
// seeded with the first value rather than a warm-up window average. The
// output therefore has one defined value per input element from index 0.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	prev := values[0]
	out[0] = prev
	for i := 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RSI computes Wilder's smoothed RSI. The first period elements are nil;
// the seed average is a simple mean over the first period gain/loss deltas
// and is smoothed as avg = (avg*(period-1) + new) / period afterwards.
// When the average loss reaches zero the RSI saturates at 100.
//
// The final value is duplicated so the output stays aligned one-to-one
// with the input candles.
func RSI(values []float64, period int) []*float64 {
	n := len(values)
	out := make([]*float64, n)
	if n < period+1 {
		return out
	}

	gains := make([]float64, n-1)
	losses := make([]float64, n-1)
	for i := 1; i < n; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	idx := period
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)

		rsi := 100.0
		if avgLoss != 0 {
			rs := avgGain / avgLoss
			rsi = 100 - (100 / (1 + rs))
		}
		v := rsi
		out[idx] = &v
		idx++
	}

	if idx < n && out[idx-1] != nil {
		v := *out[idx-1]
		out[idx] = &v
	}

	return out
}

// MACD computes the 12/26 MACD line, its 9-period signal line and the
// histogram. The signal line uses the same seed-with-first EMA rule, so
// every element is defined for non-empty input.
func MACD(values []float64) (line, signal, hist []float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}

	ema12 := EMA(values, 12)
	ema26 := EMA(values, 26)

	line = make([]float64, len(values))
	for i := range values {
		line[i] = ema12[i] - ema26[i]
	}

	signal = EMA(line, 9)

	hist = make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - signal[i]
	}

	return line, signal, hist
}

// Trend derives the composite trend score, label and the market buy/sell
// signals from one indicator snapshot. If any of ema9/ema21/macd/macdSignal
// is nil the whole tuple is nil; if rsi is nil, only the signals are nil.
//
// The neutral label with RSI in [40,60] intentionally reports buy AND sell
// true at the same time. Callers must treat the two flags independently.
func Trend(ema9, ema21, macd, macdSignal, adx, rsi *float64) (score *float64, label *string, buy, sell *bool) {
	if ema9 == nil || ema21 == nil || macd == nil || macdSignal == nil {
		return nil, nil, nil, nil
	}

	s := 0.0
	if *ema9 > *ema21 {
		s++
	} else {
		s--
	}
	if *macd > *macdSignal {
		s++
	} else {
		s--
	}

	if adx != nil {
		if *adx > 25 {
			s *= 1.5
		} else if *adx < 20 {
			s *= 0.5
		}
	}

	var l string
	switch {
	case s >= 1:
		l = models.TrendBullish
	case s <= -1:
		l = models.TrendBearish
	default:
		l = models.TrendNeutral
	}

	score = &s
	label = &l

	if rsi == nil {
		return score, label, nil, nil
	}

	var b, v bool
	switch l {
	case models.TrendBullish:
		b, v = true, false
	case models.TrendBearish:
		b, v = false, true
	default:
		if *rsi >= 40 && *rsi <= 60 {
			b, v = true, true
		}
	}

	return score, label, &b, &v
}
