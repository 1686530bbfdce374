package levels

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kcu-companion/internal/model"
)

// Line styles understood by the chart surface.
const (
	LineSolid       = "solid"
	LineDotted      = "dotted"
	LineDashed      = "dashed"
	LineLargeDashed = "large_dashed"
)

const (
	minWidth = 1
	maxWidth = 4
)

// Style is the resolved look of one level line.
type Style struct {
	Color     string `yaml:"color" json:"color"`
	Width     int    `yaml:"width" json:"width"`
	LineStyle string `yaml:"line_style" json:"lineStyle"`
}

// StyleTable maps a level kind to its default style.
type StyleTable map[model.LevelKind]Style

// DefaultStyles returns the built-in style per kind.
func DefaultStyles() StyleTable {
	return StyleTable{
		model.KindSupport:    {Color: "#22c55e", Width: 1, LineStyle: LineDashed},
		model.KindResistance: {Color: "#ef4444", Width: 1, LineStyle: LineDashed},
		model.KindVWAP:       {Color: "#a855f7", Width: 1, LineStyle: LineDotted},
		model.KindPivot:      {Color: "#eab308", Width: 1, LineStyle: LineSolid},
		model.KindCallWall:   {Color: "#10b981", Width: 2, LineStyle: LineSolid},
		model.KindPutWall:    {Color: "#f43f5e", Width: 2, LineStyle: LineSolid},
		model.KindZeroGamma:  {Color: "#f59e0b", Width: 2, LineStyle: LineLargeDashed},
		model.KindMaxPain:    {Color: "#8b5cf6", Width: 1, LineStyle: LineLargeDashed},
		model.KindCustom:     {Color: "#94a3b8", Width: 1, LineStyle: LineSolid},
	}
}

// Resolve returns the style for lvl: the kind default, then the level's own
// color/line style overrides, then strength-scaled width.
func (t StyleTable) Resolve(lvl model.PriceLevel) Style {
	st, ok := t[lvl.Kind]
	if !ok {
		st = t[model.KindCustom]
	}
	if lvl.Color != "" {
		st.Color = lvl.Color
	}
	if ls := normalizeLineStyle(lvl.LineStyle); ls != "" {
		st.LineStyle = ls
	}
	if lvl.Strength != nil {
		if w, ok := StrengthWidth(*lvl.Strength); ok {
			st.Width = w
		}
	}
	st.Width = clampWidth(st.Width)
	return st
}

// StrengthWidth maps strength 0-100 onto a line width 1-4. Out-of-range
// strengths clamp; a non-finite strength reports ok=false.
func StrengthWidth(strength float64) (int, bool) {
	if !model.IsFinite(strength) {
		return 0, false
	}
	s := math.Max(0, math.Min(100, strength))
	return clampWidth(minWidth + int(math.Round(s/100*(maxWidth-minWidth)))), true
}

func clampWidth(w int) int {
	if w < minWidth {
		return minWidth
	}
	if w > maxWidth {
		return maxWidth
	}
	return w
}

func normalizeLineStyle(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solid", "0":
		return LineSolid
	case "dotted", "1":
		return LineDotted
	case "dashed", "2":
		return LineDashed
	case "large_dashed", "largedashed", "large-dashed", "3":
		return LineLargeDashed
	}
	return ""
}

// LoadStyles reads a YAML file of per-kind overrides and merges it over the
// defaults. Keys are level kinds in any spelling ParseLevelKind accepts:
//
//	call_wall:
//	  color: "#00ff88"
//	  width: 3
//	support:
//	  line_style: dotted
func LoadStyles(path string) (StyleTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read styles %s: %w", path, err)
	}
	return ParseStyles(b)
}

// ParseStyles merges YAML overrides over DefaultStyles.
func ParseStyles(b []byte) (StyleTable, error) {
	var raw map[string]Style
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse styles: %w", err)
	}
	table := DefaultStyles()
	for k, ov := range raw {
		kind := model.ParseLevelKind(k)
		st := table[kind]
		if ov.Color != "" {
			st.Color = ov.Color
		}
		if ov.Width != 0 {
			st.Width = clampWidth(ov.Width)
		}
		if ov.LineStyle != "" {
			ls := normalizeLineStyle(ov.LineStyle)
			if ls == "" {
				return nil, fmt.Errorf("styles: unknown line_style %q for %s", ov.LineStyle, k)
			}
			st.LineStyle = ls
		}
		table[kind] = st
	}
	return table, nil
}
