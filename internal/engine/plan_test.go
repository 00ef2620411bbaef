package engine

import "testing"

func TestBuildBracketPlan(t *testing.T) {
	tests := []struct {
		name    string
		filled  float64
		share   float64
		lotStep float64
		minQty  float64
		wantTP1 float64
		wantTP2 float64
	}{
		{"standard 30/70 split", 1.0, 30, 0.001, 0.001, 0.3, 0.7},
		{"half split", 2.0, 50, 0.001, 0.001, 1.0, 1.0},
		{"tp1 below min folds into tp2", 0.02, 30, 0.01, 0.01, 0, 0.02},
		{"tp2 below min folds everything into tp2", 0.015, 90, 0.001, 0.01, 0, 0.015},
		{"whole position below min degrades to stop only", 0.005, 30, 0.001, 0.01, 0, 0},
		{"zero share routes all to tp2", 1.0, 0, 0.001, 0.001, 0, 1.0},
		{"full share leaves tp2 empty and folds", 0.5, 100, 0.001, 0.001, 0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := BuildBracketPlan(tt.filled, tt.share, tt.lotStep, tt.minQty)
			if plan.TP1Qty != tt.wantTP1 || plan.TP2Qty != tt.wantTP2 {
				t.Errorf("BuildBracketPlan(%v, %v%%) = {%v, %v}, want {%v, %v}",
					tt.filled, tt.share, plan.TP1Qty, plan.TP2Qty, tt.wantTP1, tt.wantTP2)
			}
		})
	}

	t.Run("legs never exceed filled size", func(t *testing.T) {
		plan := BuildBracketPlan(0.999, 33, 0.001, 0.001)
		if plan.TP1Qty+plan.TP2Qty > 0.999 {
			t.Errorf("tp1 %v + tp2 %v exceeds filled 0.999", plan.TP1Qty, plan.TP2Qty)
		}
	})
}
