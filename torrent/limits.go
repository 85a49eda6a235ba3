package torrent

import "golang.org/x/time/rate"

// minBurst keeps limiters usable for whole chunks even at tiny rates.
const minBurst = 256 << 10

// SetLimits updates the client limiters from Mbit/s values. Zero or less
// means unlimited.
func SetLimits(dl, ul *rate.Limiter, dlMbit, ulMbit float64) {
	setLimit(dl, dlMbit)
	setLimit(ul, ulMbit)
}

func setLimit(l *rate.Limiter, mbit float64) {
	if l == nil {
		return
	}
	if mbit <= 0 {
		l.SetLimit(rate.Inf)
		return
	}

	bps := rate.Limit(mbit * 125_000) // bytes per second
	l.SetLimit(bps)
	l.SetBurst(max(int(bps), minBurst))
}

// Limits returns the current limits in Mbit/s, 0 meaning unlimited.
func Limits(dl, ul *rate.Limiter) (float64, float64) {
	return toMbit(dl), toMbit(ul)
}

func toMbit(l *rate.Limiter) float64 {
	if l == nil || l.Limit() == rate.Inf {
		return 0
	}
	return float64(l.Limit()) * 8 / 1_000_000
}
