package common

import (
	"math"
	"strings"
)

// RoundQty rounds a base quantity down to the symbol's step size.
func RoundQty(qty float64, f SymbolFilters) float64 {
	if f.StepSize <= 0 {
		return qty
	}
	steps := math.Floor(qty / f.StepSize)
	rounded := steps * f.StepSize
	// Kill float noise introduced by the division.
	scale := math.Pow10(f.QtyDecimals)
	return math.Floor(rounded*scale+0.5) / scale
}

// RoundPrice rounds a price down to the symbol's tick size.
func RoundPrice(price float64, f SymbolFilters) float64 {
	if f.TickSize <= 0 {
		return price
	}
	ticks := math.Floor(price / f.TickSize)
	rounded := ticks * f.TickSize
	scale := math.Pow10(decimalsOfFloat(f.TickSize))
	return math.Floor(rounded*scale+0.5) / scale
}

// DecimalsOf counts meaningful decimal places in a filter string
// like "0.00100000".
func DecimalsOf(step string) int {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(step[dot+1:], "0")
	return len(frac)
}

func decimalsOfFloat(v float64) int {
	if v <= 0 {
		return 0
	}
	d := 0
	for v < 1 && d < 12 {
		v *= 10
		d++
	}
	return d
}
