package gateway

import (
	"errors"
	"math"
	"testing"

	"grid-trader-go/market"
)

func TestSymbolRulesSnapsPriceAndQuantity(t *testing.T) {
	r := SymbolRules{TickSize: 0.01, StepSize: 0.001}
	o, err := r.Apply(Order{Side: market.SideBuy, Quantity: 0.07538, Price: 99.4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(o.Price-99.40) > 1e-9 {
		t.Fatalf("price not snapped: %v", o.Price)
	}
	if math.Abs(o.Quantity-0.075) > 1e-9 {
		t.Fatalf("quantity not snapped: %v", o.Quantity)
	}
}

func TestSymbolRulesKeepsAlignedValues(t *testing.T) {
	r := SymbolRules{TickSize: 0.01, StepSize: 0.001}
	o, err := r.Apply(Order{Quantity: 0.075, Price: 99.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(o.Price-99.4) > 1e-9 || math.Abs(o.Quantity-0.075) > 1e-9 {
		t.Fatalf("aligned values changed: %v %v", o.Price, o.Quantity)
	}
}

func TestSymbolRulesRejectsLimits(t *testing.T) {
	r := SymbolRules{StepSize: 0.001, MinQty: 0.01, MaxQty: 10, MinNotional: 5}

	if _, err := r.Apply(Order{Quantity: 0.005, Price: 100}); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected min qty rejection, got %v", err)
	}
	if _, err := r.Apply(Order{Quantity: 11, Price: 100}); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected max qty rejection, got %v", err)
	}
	if _, err := r.Apply(Order{Quantity: 0.02, Price: 100}); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected notional rejection, got %v", err)
	}
	if _, err := r.Apply(Order{Quantity: 0.0004, Price: 100}); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected zero quantity rejection, got %v", err)
	}
}

func TestSymbolRulesDisabledPassthrough(t *testing.T) {
	var r SymbolRules
	if r.Enabled() {
		t.Fatalf("zero rules should be disabled")
	}
	o, err := r.Apply(Order{Quantity: 0.07538, Price: 99.4096})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Price != 99.4096 || o.Quantity != 0.07538 {
		t.Fatalf("passthrough changed order: %v %v", o.Price, o.Quantity)
	}
}
