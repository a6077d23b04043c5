package pricing

import "github.com/alanyoungcy/arbsim/internal/domain"

// Fill is the outcome of consuming a target size from one book side.
type Fill struct {
	VWAP     float64 `json:"vwap"`
	Filled   float64 `json:"filled"`
	Notional float64 `json:"notional"`
	Complete bool    `json:"complete"`
}

// fillEpsilon absorbs float error when the last level exactly covers the size.
const fillEpsilon = 1e-12

// Walk consumes size from levels in order and returns the volume weighted
// average price of what was taken. When depth runs out before size is filled
// the result is incomplete and VWAP is zero.
func Walk(levels []domain.PriceLevel, size float64) Fill {
	if size <= 0 {
		return Fill{}
	}
	remaining := size
	eps := fillEpsilon * size
	var f Fill
	for _, l := range levels {
		if remaining <= eps {
			break
		}
		if l.Size <= 0 {
			continue
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		f.Notional += l.Price * take
		f.Filled += take
		remaining -= take
	}
	if remaining > eps {
		return Fill{Filled: f.Filled}
	}
	f.Complete = true
	f.VWAP = f.Notional / f.Filled
	return f
}
