package feed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// rawLevel is an exchange level encoded as ["price", "size"].
type rawLevel [2]json.RawMessage

func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// parseLevels converts raw levels. keepZero retains size-0 levels, which
// deltas use to delete a price.
func parseLevels(raw []rawLevel, keepZero bool) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := parseNumber(l[0])
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", l[0], err)
		}
		size, err := parseNumber(l[1])
		if err != nil {
			return nil, fmt.Errorf("size %s: %w", l[1], err)
		}
		if size == 0 && !keepZero {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}
