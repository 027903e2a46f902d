// Package units converts geometric errors authored in non-metric units into meters.
package units

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	Meters       Unit = "METERS"
	Millimeters  Unit = "MILLIMETERS"
	Centimeters  Unit = "CENTIMETERS"
	Kilometers   Unit = "KILOMETERS"
	Feet         Unit = "FEET"
	USSurveyFeet Unit = "US-SURVEY-FEET"
)

// meters per unit, kept exact so repeated scaling does not drift
var factors = map[Unit]decimal.Decimal{
	Meters:       decimal.NewFromInt(1),
	Millimeters:  decimal.New(1, -3),
	Centimeters:  decimal.New(1, -2),
	Kilometers:   decimal.New(1, 3),
	Feet:         decimal.RequireFromString("0.3048"),
	USSurveyFeet: decimal.NewFromInt(1200).Div(decimal.NewFromInt(3937)),
}

func ParseUnit(value string) (Unit, error) {
	normalizedValue := Unit(strings.Trim(strings.ToUpper(value), " "))
	if normalizedValue == "" {
		return Meters, nil
	}
	if normalizedValue == "US_SURVEY_FEET" {
		normalizedValue = USSurveyFeet
	}
	if _, ok := factors[normalizedValue]; !ok {
		return "", fmt.Errorf("unknown geometric error unit %q", value)
	}
	return normalizedValue, nil
}

func (u Unit) String() string {
	return string(u)
}

// Factor returns how many meters one unit spans.
func (u Unit) Factor() float64 {
	f, ok := factors[u]
	if !ok {
		return 1
	}
	v, _ := f.Float64()
	return v
}

// ToMeters converts v from u into meters.
func (u Unit) ToMeters(v float64) float64 {
	f, ok := factors[u]
	if !ok || u == Meters {
		return v
	}
	out, _ := decimal.NewFromFloat(v).Mul(f).Float64()
	return out
}
