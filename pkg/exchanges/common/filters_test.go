package common

import "testing"

func TestRoundQty(t *testing.T) {
	f := SymbolFilters{StepSize: 0.001, MinQty: 0.001, QtyDecimals: 3}

	tests := []struct {
		name string
		qty  float64
		want float64
	}{
		{"exact step", 0.005, 0.005},
		{"rounds down", 0.0059, 0.005},
		{"below step", 0.0004, 0},
		{"large qty", 12.34567, 12.345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundQty(tt.qty, f); got != tt.want {
				t.Fatalf("RoundQty(%v) = %v, want %v", tt.qty, got, tt.want)
			}
		})
	}
}

func TestRoundQtyNoFilter(t *testing.T) {
	if got := RoundQty(1.2345, SymbolFilters{}); got != 1.2345 {
		t.Fatalf("RoundQty without step = %v, want passthrough", got)
	}
}

func TestRoundPrice(t *testing.T) {
	f := SymbolFilters{TickSize: 0.01}
	if got := RoundPrice(30000.119, f); got != 30000.11 {
		t.Fatalf("RoundPrice = %v, want 30000.11", got)
	}
	if got := RoundPrice(5, SymbolFilters{}); got != 5 {
		t.Fatalf("RoundPrice without tick = %v, want passthrough", got)
	}
}

func TestDecimalsOf(t *testing.T) {
	tests := []struct {
		step string
		want int
	}{
		{"0.00100000", 3},
		{"1.00000000", 0},
		{"0.00000100", 6},
		{"1", 0},
	}
	for _, tt := range tests {
		if got := DecimalsOf(tt.step); got != tt.want {
			t.Errorf("DecimalsOf(%q) = %d, want %d", tt.step, got, tt.want)
		}
	}
}
