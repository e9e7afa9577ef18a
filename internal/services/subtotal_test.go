package services

import (
	"context"
	"errors"
	"testing"

	"github.com/kioskflow/api/internal/domain"
)

func TestSubtotalCalculatorCompute(t *testing.T) {
	catalog := &stubCatalog{
		products: map[string]int64{testProductA: 100, testProductC: 30},
		options:  map[string]int64{testOptionB: 50},
	}
	calc, err := NewSubtotalCalculator(catalog)
	if err != nil {
		t.Fatalf("NewSubtotalCalculator: %v", err)
	}

	cases := []struct {
		name     string
		products []domain.OrderItem
		options  []domain.OrderItem
		want     int64
	}{
		{name: "empty", want: 0},
		{name: "single product", products: []domain.OrderItem{{ItemID: testProductA, Quantity: 3}}, want: 300},
		{
			name:     "products and options",
			products: []domain.OrderItem{{ItemID: testProductA, Quantity: 2}},
			options:  []domain.OrderItem{{ItemID: testOptionB, Quantity: 1}},
			want:     250,
		},
		{name: "unresolved skipped", products: []domain.OrderItem{{ItemID: testMissingID, Quantity: 5}, {ItemID: testProductC, Quantity: 1}}, want: 30},
		{name: "negative clamps to zero", products: []domain.OrderItem{{ItemID: testProductA, Quantity: -4}}, want: 0},
		{name: "option id not looked up as product", products: []domain.OrderItem{{ItemID: testOptionB, Quantity: 1}}, want: 0},
	}
	for _, tc := range cases {
		got, err := calc.Compute(context.Background(), tc.products, tc.options)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestSubtotalCalculatorPropagatesLookupFailure(t *testing.T) {
	catalog := &stubCatalog{err: stubRepoError{unavailable: true}}
	calc, _ := NewSubtotalCalculator(catalog)
	_, err := calc.Compute(context.Background(), []domain.OrderItem{{ItemID: testProductA, Quantity: 1}}, nil)
	if err == nil {
		t.Fatalf("expected lookup failure")
	}
	var repoErr stubRepoError
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}

func TestNewSubtotalCalculatorRequiresCatalog(t *testing.T) {
	if _, err := NewSubtotalCalculator(nil); err == nil {
		t.Fatalf("expected error without catalog")
	}
}
