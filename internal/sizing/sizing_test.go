package sizing

import (
	"errors"
	"testing"

	"tv-bybit-middleware/internal/bybit"
)

func ptr(v float64) *float64 { return &v }

var btcFilters = bybit.InstrumentFilters{
	Symbol:   "BTCUSDT",
	TickSize: 0.1,
	LotStep:  0.001,
	MinQty:   0.001,
}

func TestComputeExplicitQty(t *testing.T) {
	qty, err := Compute(Input{ExplicitQty: ptr(0.12345)}, btcFilters, 0, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if qty != 0.123 {
		t.Errorf("qty = %v, want 0.123 (floored to lot step)", qty)
	}
}

func TestComputeExplicitQtyBumpsToMin(t *testing.T) {
	qty, err := Compute(Input{ExplicitQty: ptr(0.0004)}, btcFilters, 0, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if qty != 0.001 {
		t.Errorf("qty = %v, want 0.001 (bumped to min)", qty)
	}
}

func TestComputeRiskPct(t *testing.T) {
	// 1% of 10000 = 100 USD risk; stop distance 1 USD -> 100 units
	qty, err := Compute(Input{RiskPct: ptr(1.0), StopPrice: ptr(99.0)}, bybit.InstrumentFilters{
		Symbol:   "XRPUSDT",
		TickSize: 0.0001,
		LotStep:  0.001,
		MinQty:   0.001,
	}, 10000, 100)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if qty != 100.0 {
		t.Errorf("qty = %v, want 100", qty)
	}
}

func TestComputeRiskPctShortSide(t *testing.T) {
	// Stop above price: distance is still absolute
	qty, err := Compute(Input{RiskPct: ptr(2.0), StopPrice: ptr(50500.0)}, btcFilters, 10000, 50000)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 200 USD risk / 500 distance = 0.4
	if qty != 0.4 {
		t.Errorf("qty = %v, want 0.4", qty)
	}
}

func TestComputeMissingInputs(t *testing.T) {
	if _, err := Compute(Input{RiskPct: ptr(1.0)}, btcFilters, 10000, 100); !errors.Is(err, ErrInvalidSizing) {
		t.Errorf("missing stop: err = %v, want ErrInvalidSizing", err)
	}
	if _, err := Compute(Input{StopPrice: ptr(99.0)}, btcFilters, 10000, 100); !errors.Is(err, ErrInvalidSizing) {
		t.Errorf("missing riskPct: err = %v, want ErrInvalidSizing", err)
	}
	if _, err := Compute(Input{}, btcFilters, 10000, 100); !errors.Is(err, ErrInvalidSizing) {
		t.Errorf("empty input: err = %v, want ErrInvalidSizing", err)
	}
}

func TestComputeZeroStopDistance(t *testing.T) {
	if _, err := Compute(Input{RiskPct: ptr(1.0), StopPrice: ptr(100.0)}, btcFilters, 10000, 100); !errors.Is(err, ErrZeroStopDistance) {
		t.Errorf("err = %v, want ErrZeroStopDistance", err)
	}
}
