package quant

import "testing"

func TestRoundQty(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  float64
		min   float64
		want  float64
	}{
		{"exact multiple", 1.0, 0.001, 0.001, 1.0},
		{"floors toward zero", 1.0015, 0.001, 0.001, 1.001},
		{"bumps to min qty", 0.0004, 0.001, 0.001, 0.001},
		{"zero stays below min and bumps", 0, 0.001, 0.001, 0.001},
		{"coarse step", 7.9, 0.5, 0.5, 7.5},
		{"tiny step no float drift", 0.12345, 0.0001, 0.0001, 0.1234},
		{"non-positive step passes through", 1.2345, 0, 0, 1.2345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundQty(tt.value, tt.step, tt.min)
			if got != tt.want {
				t.Errorf("RoundQty(%v, %v, %v) = %v, want %v", tt.value, tt.step, tt.min, got, tt.want)
			}
		})
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		tick  float64
		want  float64
	}{
		{"exact tick", 50000.0, 0.1, 50000.0},
		{"floors to tick", 50000.17, 0.1, 50000.1},
		{"sub-cent tick", 0.123456, 0.0001, 0.1234},
		{"non-positive tick passes through", 123.456, 0, 123.456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundPrice(tt.value, tt.tick)
			if got != tt.want {
				t.Errorf("RoundPrice(%v, %v) = %v, want %v", tt.value, tt.tick, got, tt.want)
			}
		})
	}
}

func TestQtyString(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		step  float64
		min   float64
		want  string
	}{
		{"three decimals from step", 100.0, 0.001, 0.001, "100.000"},
		{"unit value keeps grid scale", 1.0, 0.001, 0.001, "1.000"},
		{"integer step", 42.0, 1, 1, "42"},
		{"rounds then formats", 0.30000000000000004, 0.001, 0.001, "0.300"},
		{"min bump formats", 0.0001, 0.001, 0.001, "0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QtyString(tt.value, tt.step, tt.min)
			if got != tt.want {
				t.Errorf("QtyString(%v, %v, %v) = %q, want %q", tt.value, tt.step, tt.min, got, tt.want)
			}
		})
	}
}

func TestPriceString(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		tick  float64
		want  string
	}{
		{"one decimal tick", 50000.17, 0.1, "50000.1"},
		{"whole value keeps tick scale", 51000.0, 0.1, "51000.0"},
		{"half tick", 1999.75, 0.5, "1999.5"},
		{"four decimal tick", 0.12345, 0.0001, "0.1234"},
		{"never exponent for small values", 0.00001234, 0.00000001, "0.00001234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriceString(tt.value, tt.tick)
			if got != tt.want {
				t.Errorf("PriceString(%v, %v) = %q, want %q", tt.value, tt.tick, got, tt.want)
			}
		})
	}
}
