package firerisk

import (
	"fmt"
	"strings"
)

// DangerClass is a qualitative fire-danger level.
type DangerClass string

const (
	DangerLow         DangerClass = "LOW"
	DangerModerate    DangerClass = "MODERATE"
	DangerHigh        DangerClass = "HIGH"
	DangerVeryHigh    DangerClass = "VERY_HIGH"
	DangerExtreme     DangerClass = "EXTREME"
	DangerVeryExtreme DangerClass = "VERY_EXTREME"
)

// Threshold maps values strictly below UpperBound to Class.
type Threshold struct {
	UpperBound float64
	Class      DangerClass
}

// RiskScale defines the admissible range of risk values and how they map to
// danger classes. The table is ordered by ascending UpperBound; values at or
// above the last bound fall into Top.
type RiskScale struct {
	Name       string
	Min        float64
	Max        float64
	Thresholds []Threshold
	Top        DangerClass
}

// ProbabilityScale is the canonical scale: a normalized probability in [0,1].
var ProbabilityScale = RiskScale{
	Name: "probability",
	Min:  0,
	Max:  1,
	Thresholds: []Threshold{
		{UpperBound: 0.2, Class: DangerLow},
		{UpperBound: 0.4, Class: DangerModerate},
		{UpperBound: 0.6, Class: DangerHigh},
		{UpperBound: 0.8, Class: DangerVeryHigh},
	},
	Top: DangerExtreme,
}

// FWIScale is the Fire Weather Index scale with EFFIS danger classes.
// FWI is unbounded in theory; values above 150 are treated as sensor or model errors.
var FWIScale = RiskScale{
	Name: "fwi",
	Min:  0,
	Max:  150,
	Thresholds: []Threshold{
		{UpperBound: 5.2, Class: DangerLow},
		{UpperBound: 11.2, Class: DangerModerate},
		{UpperBound: 21.3, Class: DangerHigh},
		{UpperBound: 38.0, Class: DangerVeryHigh},
		{UpperBound: 50.0, Class: DangerExtreme},
	},
	Top: DangerVeryExtreme,
}

// InRange reports whether v is an admissible risk value on this scale.
func (s RiskScale) InRange(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// Classify returns the danger class for a risk value.
func (s RiskScale) Classify(v float64) DangerClass {
	for _, t := range s.Thresholds {
		if v < t.UpperBound {
			return t.Class
		}
	}
	return s.Top
}

// Classes lists every class of the scale, lowest first.
func (s RiskScale) Classes() []DangerClass {
	classes := make([]DangerClass, 0, len(s.Thresholds)+1)
	for _, t := range s.Thresholds {
		classes = append(classes, t.Class)
	}
	return append(classes, s.Top)
}

// ScaleByName resolves a configured scale name.
func ScaleByName(name string) (RiskScale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "probability":
		return ProbabilityScale, nil
	case "fwi":
		return FWIScale, nil
	default:
		return RiskScale{}, fmt.Errorf("unknown risk scale %q", name)
	}
}
