package model

import (
	"encoding/json"
	"strconv"
)

// Point is one indicator sample aligned with the candle at the same position.
// Valid=false marks an absent value (warm-up, invalid input).
type Point struct {
	Time  int64
	Value float64
	Valid bool
}

// Absent returns an absent point at time t.
func Absent(t int64) Point { return Point{Time: t} }

// Present returns a valid point at time t.
func Present(t int64, v float64) Point { return Point{Time: t, Value: v, Valid: true} }

// MarshalJSON encodes absent points as whitespace data ({"time":t}) so the
// chart surface leaves a gap instead of drawing a zero.
func (p Point) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 48)
	buf = append(buf, `{"time":`...)
	buf = strconv.AppendInt(buf, p.Time, 10)
	if p.Valid && IsFinite(p.Value) {
		buf = append(buf, `,"value":`...)
		buf = strconv.AppendFloat(buf, p.Value, 'f', -1, 64)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		Time  int64    `json:"time"`
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Time = raw.Time
	p.Valid = raw.Value != nil
	p.Value = 0
	if raw.Value != nil {
		p.Value = *raw.Value
	}
	return nil
}

// Series is a named indicator output aligned 1:1 with the candle store.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Last returns the final point and whether the series is non-empty.
func (s *Series) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Clone returns a deep copy of the series.
func (s Series) Clone() Series {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	return Series{Name: s.Name, Points: pts}
}
