package domain

import (
	"fmt"
	"math"
)

// Money is an amount in cents.
type Money int64

// Dollars converts a dollar figure, rounding half away from zero to the cent.
func Dollars(d float64) Money {
	return Money(math.Round(d * 100))
}

// Float returns the amount in dollars.
func (m Money) Float() float64 {
	return float64(m) / 100
}

// Percent returns p percent of m, rounded to the cent.
func (m Money) Percent(p float64) Money {
	return Money(math.Round(float64(m) * p / 100))
}

// Scale multiplies m by f, rounded to the cent.
func (m Money) Scale(f float64) Money {
	return Money(math.Round(float64(m) * f))
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}
