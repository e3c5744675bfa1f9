package gasbank

import "testing"

func TestChargeableFixed(t *testing.T) {
	got := Chargeable(FeeModel{Kind: FeeFixed, Param: 500}, 10000, 0.9)
	if got != 500 {
		t.Fatalf("expected fixed fee 500, got %d", got)
	}
}

func TestChargeablePercentage(t *testing.T) {
	got := Chargeable(FeeModel{Kind: FeePercentage, Param: 250}, 10000, 0)
	if got != 250 {
		t.Fatalf("expected 2.5%% of 10000 = 250, got %d", got)
	}
}

func TestChargeableFree(t *testing.T) {
	got := Chargeable(FeeModel{Kind: FeeFree}, 10000, 1)
	if got != 0 {
		t.Fatalf("expected free fee model to charge 0, got %d", got)
	}
}

func TestChargeableDynamicBounds(t *testing.T) {
	low := Chargeable(FeeModel{Kind: FeeDynamic}, 1000, -1)
	if low != 1000 {
		t.Fatalf("expected surge floor of 1.0x at negative load, got %d", low)
	}
	high := Chargeable(FeeModel{Kind: FeeDynamic}, 1000, 2)
	if high != 3000 {
		t.Fatalf("expected surge ceiling of 3.0x at load>1, got %d", high)
	}
}
