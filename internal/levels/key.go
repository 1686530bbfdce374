package levels

import (
	"github.com/shopspring/decimal"

	"kcu-companion/internal/model"
)

// keyPlaces is the price precision of a stable key. Sub-tick float noise from
// upstream recomputation must not make a level look new.
const keyPlaces = 4

// StableKey identifies a level across snapshots: kind|price|label.
func StableKey(lvl model.PriceLevel) string {
	return string(lvl.Kind) + "|" + decimal.NewFromFloat(lvl.Price).StringFixed(keyPlaces) + "|" + lvl.Label
}
