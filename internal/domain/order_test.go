package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOrder_Notional(t *testing.T) {
	o := &Order{Quantity: d("10"), LimitPrice: d("50.00")}
	if got := o.Notional(); !got.Equal(d("500")) {
		t.Errorf("Notional() = %s, want 500", got)
	}

	frac := &Order{Quantity: d("0.12345678"), LimitPrice: d("100.01")}
	if got := frac.Notional(); !got.Equal(d("12.3469125678")) {
		t.Errorf("Notional() = %s, want 12.3469125678", got)
	}
}

func TestOrder_Crosses(t *testing.T) {
	tests := []struct {
		name   string
		side   OrderSide
		limit  string
		market string
		want   bool
	}{
		{"buy above market", OrderSideBuy, "50", "48", true},
		{"buy at market", OrderSideBuy, "50", "50", true},
		{"buy below market", OrderSideBuy, "49.99", "50", false},
		{"sell below market", OrderSideSell, "20", "21", true},
		{"sell at market", OrderSideSell, "20", "20", true},
		{"sell above market", OrderSideSell, "20.01", "20", false},
		{"zero market never crosses", OrderSideBuy, "50", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Side: tt.side, LimitPrice: d(tt.limit)}
			if got := o.Crosses(d(tt.market)); got != tt.want {
				t.Errorf("Crosses(%s) = %v, want %v", tt.market, got, tt.want)
			}
		})
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	if OrderStatusActive.Terminal() {
		t.Error("active should not be terminal")
	}
	if !OrderStatusFilled.Terminal() || !OrderStatusCancelled.Terminal() {
		t.Error("filled and cancelled should be terminal")
	}
}

func TestOrder_CloneIsIndependent(t *testing.T) {
	o := &Order{OrderID: "o1", Status: OrderStatusActive}
	c := o.Clone()
	c.Status = OrderStatusFilled
	if o.Status != OrderStatusActive {
		t.Error("mutating the clone changed the original")
	}
}

func TestTransaction_SideAndValue(t *testing.T) {
	sell := &Transaction{Quantity: d("-5"), Price: d("20")}
	if sell.Side() != OrderSideSell {
		t.Errorf("Side() = %s, want sell", sell.Side())
	}
	if !sell.Value().Equal(d("100")) {
		t.Errorf("Value() = %s, want 100", sell.Value())
	}
	buy := &Transaction{Quantity: d("2"), Price: d("3")}
	if buy.Side() != OrderSideBuy {
		t.Errorf("Side() = %s, want buy", buy.Side())
	}
}
