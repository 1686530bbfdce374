package indicator

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// ErrInvalidSpec wraps every ValidateSpecs failure.
var ErrInvalidSpec = errors.New("invalid indicator spec")

// Spec selects one overlay to compute.
type Spec struct {
	Type   string `json:"type"`             // "EMA", "SMA", "VWAP"
	Period int    `json:"period,omitempty"` // ignored for VWAP
}

// Name returns the series name the spec produces ("EMA_9", "VWAP").
func (s Spec) Name() string {
	if s.Type == "VWAP" {
		return "VWAP"
	}
	return s.Type + "_" + strconv.Itoa(s.Period)
}

// New builds the indicator instance for the spec.
func (s Spec) New(sessionOf SessionFunc) Indicator {
	switch s.Type {
	case "EMA":
		return NewEMA(s.Period)
	case "SMA":
		return NewSMA(s.Period)
	case "VWAP":
		return NewVWAP(sessionOf)
	default:
		return NewEMA(s.Period) // fallback
	}
}

// DefaultSpecs are the overlays the companion view draws out of the box.
func DefaultSpecs() []Spec {
	return []Spec{
		{Type: "EMA", Period: 8},
		{Type: "EMA", Period: 21},
		{Type: "VWAP"},
	}
}

// ParseSpecs parses "TYPE:PERIOD,...,VWAP" into specs.
// Example: "EMA:9,EMA:21,SMA:200,VWAP". Returns defaults if input is empty
// or nothing valid was parsed.
func ParseSpecs(s string) []Spec {
	if strings.TrimSpace(s) == "" {
		return DefaultSpecs()
	}

	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		if typ == "VWAP" {
			specs = append(specs, Spec{Type: typ})
			continue
		}
		if len(tokens) != 2 {
			log.Printf("[indicator] skipping spec without period: %q", part)
			continue
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[indicator] skipping invalid indicator spec: %q", part)
			continue
		}
		specs = append(specs, Spec{Type: typ, Period: period})
	}
	if len(specs) == 0 {
		log.Println("[indicator] WARNING: no valid indicators parsed, using defaults")
		return DefaultSpecs()
	}
	return specs
}

// ParseSpecsStrict parses the same format as ParseSpecs but fails on any
// item it cannot parse and never substitutes defaults. The result is also
// run through ValidateSpecs.
func ParseSpecsStrict(s string) ([]Spec, error) {
	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.SplitN(part, ":", 2)
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		if typ == "VWAP" {
			if len(tokens) != 1 {
				return nil, fmt.Errorf("%w: VWAP takes no period", ErrInvalidSpec)
			}
			specs = append(specs, Spec{Type: typ})
			continue
		}
		if len(tokens) != 2 {
			return nil, fmt.Errorf("%w: %q has no period", ErrInvalidSpec, part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			return nil, fmt.Errorf("%w: bad period in %q", ErrInvalidSpec, part)
		}
		specs = append(specs, Spec{Type: typ, Period: period})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidSpec)
	}
	if err := ValidateSpecs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// ValidateSpecs checks a spec list for unknown types, bad periods and
// duplicate series names.
func ValidateSpecs(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		switch s.Type {
		case "EMA", "SMA":
			if s.Period <= 0 {
				return fmt.Errorf("%w: period=%d for %s", ErrInvalidSpec, s.Period, s.Type)
			}
		case "VWAP":
		default:
			return fmt.Errorf("%w: unknown type %q", ErrInvalidSpec, s.Type)
		}
		name := s.Name()
		if seen[name] {
			return fmt.Errorf("%w: duplicate %s", ErrInvalidSpec, name)
		}
		seen[name] = true
	}
	return nil
}
