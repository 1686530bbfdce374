package model

import "strings"

// LevelKind classifies a horizontal price level. It selects the default style.
type LevelKind string

const (
	KindSupport    LevelKind = "support"
	KindResistance LevelKind = "resistance"
	KindVWAP       LevelKind = "vwap"
	KindPivot      LevelKind = "pivot"
	KindCallWall   LevelKind = "call_wall"
	KindPutWall    LevelKind = "put_wall"
	KindZeroGamma  LevelKind = "zero_gamma"
	KindMaxPain    LevelKind = "max_pain"
	KindCustom     LevelKind = "custom"
)

// IsGamma reports whether the kind is an options-derived gamma level.
func (k LevelKind) IsGamma() bool {
	switch k {
	case KindCallWall, KindPutWall, KindZeroGamma, KindMaxPain:
		return true
	}
	return false
}

// ParseLevelKind maps loose spellings ("Call Wall", "zero-gamma", "GEX flip")
// onto a LevelKind. Unknown values become KindCustom.
func ParseLevelKind(s string) LevelKind {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	switch k {
	case "support", "pdl", "orb_low":
		return KindSupport
	case "resistance", "pdh", "orb_high":
		return KindResistance
	case "vwap", "vwap_band", "vwap_upper", "vwap_lower":
		return KindVWAP
	case "pivot":
		return KindPivot
	case "call_wall", "callwall":
		return KindCallWall
	case "put_wall", "putwall":
		return KindPutWall
	case "zero_gamma", "gamma_flip", "gex_flip":
		return KindZeroGamma
	case "max_pain", "maxpain":
		return KindMaxPain
	}
	return KindCustom
}

// PriceLevel is an externally computed horizontal level. Color and LineStyle
// override the kind's default style when set. Strength (0-100) is optional.
type PriceLevel struct {
	Price     float64   `json:"price"`
	Label     string    `json:"label"`
	Kind      LevelKind `json:"kind"`
	Color     string    `json:"color,omitempty"`
	LineStyle string    `json:"lineStyle,omitempty"`
	Strength  *float64  `json:"strength,omitempty"`
}

// GammaLevel is an options-market level as delivered by the analysis service.
type GammaLevel struct {
	Price float64 `json:"price"`
	Kind  string  `json:"kind"`
	Label string  `json:"label,omitempty"`
}

// PriceLevel converts the gamma level into a renderable PriceLevel.
func (g GammaLevel) PriceLevel() PriceLevel {
	kind := ParseLevelKind(g.Kind)
	if !kind.IsGamma() {
		kind = KindZeroGamma
	}
	label := g.Label
	if label == "" {
		label = gammaLabels[kind]
	}
	return PriceLevel{Price: g.Price, Label: label, Kind: kind}
}

var gammaLabels = map[LevelKind]string{
	KindCallWall:  "Call Wall",
	KindPutWall:   "Put Wall",
	KindZeroGamma: "Zero Gamma",
	KindMaxPain:   "Max Pain",
}

// LevelSnapshot is one wholesale delivery from the level source.
type LevelSnapshot struct {
	Symbol string       `json:"symbol"`
	Levels []PriceLevel `json:"levels"`
	Gamma  []GammaLevel `json:"gamma"`
}
